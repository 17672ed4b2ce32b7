package verify

import (
	"fmt"
	"math"
	"strings"
)

// Label is the coarse risk bucket
type Label string

// Risk labels
const (
	LabelLow    Label = "LOW"
	LabelMedium Label = "MEDIUM"
	LabelHigh   Label = "HIGH"
)

// Status of a single checklist entry
type Status string

// Checklist statuses
const (
	StatusPass Status = "PASS"
	StatusWarn Status = "WARN"
	StatusFail Status = "FAIL"
)

// Checklist entry names, in report order
const (
	CheckRecipient      = "Recipient address"
	CheckTransport      = "Transport"
	CheckConnection     = "Stratum connection"
	CheckNotify         = "Notify received"
	CheckCoinbaseDecode = "Coinbase decode"
	CheckAddressPresent = "Address present"
	CheckPayoutSplit    = "Payout split"
	CheckLargestOutput  = "Largest output"
)

// Scoring weights
const (
	baseScore          = 10
	notConnectedScore  = 60
	noNotifyScore      = 35
	shareBaseScore     = 20
	shareMaxScore      = 70
	largestNotYouScore = 20
	plainTCPScore      = 5
	noRecipientScore   = 15

	// without a checkable recipient the verdict never reaches HIGH
	noRecipientCap = 49

	highThreshold   = 70
	mediumThreshold = 35
)

// CheckItem is one line of the checklist
type CheckItem struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Detail string `json:"detail"`
}

// RiskReport is the verdict for one verification
type RiskReport struct {
	Score     int         `json:"score"`
	Label     Label       `json:"label"`
	Checklist []CheckItem `json:"checklist"`
	Summary   string      `json:"summary"`
}

// Check returns the named checklist entry
func (r RiskReport) Check(name string) (CheckItem, bool) {
	for _, item := range r.Checklist {
		if item.Name == name {
			return item, true
		}
	}
	return CheckItem{}, false
}

// Facts are the inputs of the scoring policy
type Facts struct {
	Connected      bool
	NotifyReceived bool
	HasOutputs     bool
	Share          float64
	MinShare       float64
	LargestPaysYou bool
	TLS            bool
	RecipientValid bool
}

// Score applies the weights to f and buckets the result
func Score(f Facts) (int, Label) {
	score := baseScore
	if !f.Connected {
		score += notConnectedScore
	} else if !f.NotifyReceived {
		score += noNotifyScore
	}
	if f.HasOutputs {
		if f.Share < f.MinShare {
			score += min(shareMaxScore, int(math.Floor(shareBaseScore+(f.MinShare-f.Share)*100)))
		}
		if !f.LargestPaysYou {
			score += largestNotYouScore
		}
	}
	if !f.TLS {
		score += plainTCPScore
	}
	if !f.RecipientValid {
		score += noRecipientScore
	}

	score = max(0, min(100, score))
	if !f.RecipientValid {
		score = min(score, noRecipientCap)
	}
	return score, labelFor(score)
}

func labelFor(score int) Label {
	switch {
	case score >= highThreshold:
		return LabelHigh
	case score >= mediumThreshold:
		return LabelMedium
	default:
		return LabelLow
	}
}

// Assess scores res and builds its checklist and summary
func Assess(res *Result, minShare float64) RiskReport {
	facts := Facts{
		Connected:      res.Connected,
		NotifyReceived: res.NotifyReceived,
		HasOutputs:     len(res.Outputs) > 0,
		Share:          res.YourShare,
		MinShare:       minShare,
		LargestPaysYou: res.LargestPaysYou,
		TLS:            res.Transport == "tls",
		RecipientValid: res.RecipientValid,
	}
	score, label := Score(facts)
	return RiskReport{
		Score:     score,
		Label:     label,
		Checklist: checklist(res, facts),
		Summary:   summary(label, facts),
	}
}

func checklist(res *Result, f Facts) []CheckItem {
	items := make([]CheckItem, 0, 8)
	add := func(name string, status Status, format string, args ...any) {
		items = append(items, CheckItem{Name: name, Status: status, Detail: fmt.Sprintf(format, args...)})
	}

	switch {
	case f.RecipientValid:
		add(CheckRecipient, StatusPass, "%s (%s)", res.RecipientAddress, res.RecipientType)
	case res.RecipientAddress == "":
		add(CheckRecipient, StatusWarn, "no recipient address provided; payout checks skipped")
	default:
		add(CheckRecipient, StatusWarn, "%q is not a valid Bitcoin address; payout checks skipped", res.RecipientAddress)
	}

	if f.TLS {
		add(CheckTransport, StatusPass, "TLS")
	} else {
		add(CheckTransport, StatusWarn, "plain TCP; job templates can be altered in transit")
	}

	if f.Connected {
		add(CheckConnection, StatusPass, "connected to %s", connectedTo(res))
	} else {
		add(CheckConnection, StatusFail, "%s", orDefault(res.Message, "could not connect"))
	}

	switch {
	case f.NotifyReceived:
		add(CheckNotify, StatusPass, "job %s after %d ms", res.JobID, res.LatencyMs)
	case f.Connected:
		add(CheckNotify, StatusFail, "no mining.notify before the timeout")
	default:
		add(CheckNotify, StatusFail, "not connected")
	}

	switch {
	case res.CoinbaseParsed:
		add(CheckCoinbaseDecode, StatusPass, "%d outputs, txid %s", len(res.Outputs), res.CoinbaseTxID)
	case f.NotifyReceived:
		add(CheckCoinbaseDecode, StatusFail, "%s", orDefault(res.CoinbaseError, "coinbase could not be decoded"))
	default:
		add(CheckCoinbaseDecode, StatusWarn, "skipped: no job template")
	}

	if skip := payoutSkipReason(f); skip != "" {
		add(CheckAddressPresent, StatusWarn, "skipped: %s", skip)
		add(CheckPayoutSplit, StatusWarn, "skipped: %s", skip)
		add(CheckLargestOutput, StatusWarn, "skipped: %s", skip)
		return items
	}

	yours := yourOutputs(res.Outputs)
	switch {
	case len(yours) == 0:
		add(CheckAddressPresent, StatusFail, "recipient is not paid by any of %d outputs", len(res.Outputs))
	case f.Share < f.MinShare:
		add(CheckAddressPresent, StatusFail, "recipient only appears in minor output(s) %s carrying %.2f%%",
			strings.Join(yours, ", "), f.Share*100)
	default:
		add(CheckAddressPresent, StatusPass, "paid by output(s) %s", strings.Join(yours, ", "))
	}

	if f.Share >= f.MinShare {
		add(CheckPayoutSplit, StatusPass, "%.2f%% meets the %.2f%% minimum", f.Share*100, f.MinShare*100)
	} else {
		add(CheckPayoutSplit, StatusFail, "%.2f%% is below the %.2f%% minimum", f.Share*100, f.MinShare*100)
	}

	largest := res.Outputs[0]
	if f.LargestPaysYou {
		add(CheckLargestOutput, StatusPass, "output #%d (%.2f%%) pays the recipient", largest.Index, largest.SharePct)
	} else {
		add(CheckLargestOutput, StatusFail, "output #%d (%.2f%%) pays %s", largest.Index, largest.SharePct,
			orDefault(largest.Address, "an unrecognised script"))
	}
	return items
}

func payoutSkipReason(f Facts) string {
	switch {
	case !f.RecipientValid:
		return "no valid recipient address"
	case !f.HasOutputs:
		return "no coinbase outputs decoded"
	default:
		return ""
	}
}

func yourOutputs(outputs []OutputView) []string {
	var indexes []string
	for _, o := range outputs {
		if o.IsYou {
			indexes = append(indexes, fmt.Sprintf("#%d", o.Index))
		}
	}
	return indexes
}

func connectedTo(res *Result) string {
	if res.RemoteAddr != "" {
		return res.RemoteAddr
	}
	return res.Endpoint
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func summary(label Label, f Facts) string {
	if !f.RecipientValid {
		if !f.Connected {
			return "Pool could not be reached and payout to the recipient cannot be confirmed without a valid recipient address."
		}
		return "Pool responded, but payout to the recipient cannot be confirmed without a valid recipient address."
	}
	switch label {
	case LabelHigh:
		if !f.Connected {
			return "High risk: the pool could not be reached to confirm where it pays."
		}
		return "High risk: the live job template does not pay the recipient as expected."
	case LabelMedium:
		return "Medium risk: some checks did not pass; review the checklist."
	default:
		return "Low risk: the live job template pays the recipient as expected."
	}
}
