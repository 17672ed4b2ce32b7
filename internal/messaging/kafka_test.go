package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bardlex/poolverify/internal/verify"
	"github.com/bardlex/poolverify/pkg/log"
)

func testResult() *verify.Result {
	return &verify.Result{
		OK:               true,
		Endpoint:         "stratum+tcp://pool.example.com:3333",
		Host:             "pool.example.com",
		Port:             3333,
		Connected:        true,
		NotifyReceived:   true,
		CoinbaseParsed:   true,
		CoinbaseTxID:     "ab" + "00",
		RecipientAddress: "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa",
		RecipientValid:   true,
		Outputs: []verify.OutputView{
			{Index: 1, ValueSats: 309375000, SharePct: 99, IsYou: true},
			{Index: 0, ValueSats: 3125000, SharePct: 1},
		},
		TotalSats:    312500000,
		YourShare:    0.99,
		YourSharePct: 99,
		Risk: verify.RiskReport{
			Score:   10,
			Label:   verify.LabelLow,
			Summary: "pool pays you",
		},
	}
}

func TestKafkaClient_GetProducer(t *testing.T) {
	client := NewKafkaClient([]string{"localhost:9092"}, log.Discard())

	writer1 := client.GetProducer("test-topic")
	if writer1 == nil {
		t.Fatal("GetProducer returned nil")
	}

	writer2 := client.GetProducer("test-topic")
	if writer1 != writer2 {
		t.Error("GetProducer should return the same writer for the same topic")
	}

	writer3 := client.GetProducer("other-topic")
	if writer1 == writer3 {
		t.Error("GetProducer should return different writers for different topics")
	}

	if client.writers.len() != 2 {
		t.Errorf("Expected 2 writers, got %d", client.writers.len())
	}
}

func TestKafkaClient_GetConsumer(t *testing.T) {
	client := NewKafkaClient([]string{"localhost:9092"}, nil)

	reader1 := client.GetConsumer("test-topic", "test-group")
	if reader1 == nil {
		t.Fatal("GetConsumer returned nil")
	}

	if reader2 := client.GetConsumer("test-topic", "test-group"); reader1 != reader2 {
		t.Error("GetConsumer should return the same reader for the same topic and group")
	}
	if reader3 := client.GetConsumer("test-topic", "other-group"); reader1 == reader3 {
		t.Error("GetConsumer should return different readers for different groups")
	}

	_ = client.Close()
}

func TestKafkaClient_Close(t *testing.T) {
	client := NewKafkaClient([]string{"localhost:9092"}, log.Discard())

	_ = client.GetProducer("topic1")
	_ = client.GetProducer("topic2")
	_ = client.GetConsumer("topic1", "group1")

	if err := client.Close(); err != nil {
		t.Logf("Close returned error (expected without Kafka): %v", err)
	}

	if client.writers.len() != 0 {
		t.Errorf("Expected 0 writers after close, got %d", client.writers.len())
	}
	if client.readers.len() != 0 {
		t.Errorf("Expected 0 readers after close, got %d", client.readers.len())
	}
}

func TestKafkaClient_PublishResult(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	client := NewKafkaClient([]string{"localhost:9092"}, log.Discard())
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// fails without a broker, which is the normal unit test environment
	if err := client.PublishResult(ctx, "rig-01", 0, testResult()); err != nil {
		t.Logf("Expected error without Kafka running: %v", err)
	}
}

func TestTopicConstants(t *testing.T) {
	tests := map[string]string{
		TopicAlerts:  "poolverify.alerts",
		TopicResults: "poolverify.results",
	}
	for actual, expected := range tests {
		if actual != expected {
			t.Errorf("expected topic %s, got %s", expected, actual)
		}
	}
}

func TestMessageKey(t *testing.T) {
	if got := MessageKey("rig-01", 2); got != "rig-01/2" {
		t.Errorf("MessageKey() = %q", got)
	}
}

func TestNewResultEvent(t *testing.T) {
	event, err := NewResultEvent("rig-01", 1, testResult())
	if err != nil {
		t.Fatalf("NewResultEvent() error = %v", err)
	}

	fields := event.GetFields()
	if got := fields["miner"].GetStringValue(); got != "rig-01" {
		t.Errorf("miner = %q", got)
	}
	if got := fields["slot"].GetNumberValue(); got != 1 {
		t.Errorf("slot = %v", got)
	}
	if got := fields["your_share_pct"].GetNumberValue(); got != 99 {
		t.Errorf("your_share_pct = %v", got)
	}
	if got := len(fields["outputs"].GetListValue().GetValues()); got != 2 {
		t.Errorf("outputs = %d, want 2", got)
	}
	risk := fields["risk"].GetStructValue().GetFields()
	if got := risk["label"].GetStringValue(); got != "LOW" {
		t.Errorf("risk.label = %q", got)
	}

	// round trip through the wire format the results topic carries
	data, err := proto.Marshal(event)
	if err != nil {
		t.Fatalf("proto.Marshal() error = %v", err)
	}
	decoded := &structpb.Struct{}
	if err := proto.Unmarshal(data, decoded); err != nil {
		t.Fatalf("proto.Unmarshal() error = %v", err)
	}
	if !proto.Equal(event, decoded) {
		t.Error("decoded event differs from the original")
	}
}

func TestNewAlertMessage(t *testing.T) {
	res := testResult()
	res.Risk = verify.RiskReport{Score: 90, Label: verify.LabelHigh, Summary: "pool pays someone else"}
	raised := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	alert := NewAlertMessage("rig-01", 0, res, raised)
	if alert.Label != "HIGH" || alert.Score != 90 {
		t.Errorf("alert = %+v", alert)
	}
	if alert.Endpoint != res.Endpoint || alert.RecipientAddress != res.RecipientAddress {
		t.Errorf("alert lost result fields: %+v", alert)
	}

	data, err := json.Marshal(alert)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["raised_at"] != "2026-01-02T03:04:05Z" {
		t.Errorf("raised_at = %v", decoded["raised_at"])
	}
}

func BenchmarkKafkaClient_GetProducer(b *testing.B) {
	client := NewKafkaClient([]string{"localhost:9092"}, log.Discard())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = client.GetProducer("test-topic")
	}
}

func BenchmarkNewResultEvent(b *testing.B) {
	res := testResult()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := NewResultEvent("rig-01", 0, res); err != nil {
			b.Fatal(err)
		}
	}
}
