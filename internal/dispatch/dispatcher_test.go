package dispatch_test

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"

	"github.com/cbruun/smsbridge/internal/dispatch"
	"github.com/cbruun/smsbridge/internal/gateway"
	"github.com/cbruun/smsbridge/internal/model"
)

// fakeGateway records each submitted group and answers via respond.
type fakeGateway struct {
	mu      sync.Mutex
	calls   [][]gateway.Payload
	respond func(call int, payloads []gateway.Payload) (*gateway.BatchResponse, error)
}

func (f *fakeGateway) SubmitBatch(ctx context.Context, acct model.Account, payloads []gateway.Payload) (*gateway.BatchResponse, error) {
	f.mu.Lock()
	call := len(f.calls)
	f.calls = append(f.calls, payloads)
	f.mu.Unlock()
	return f.respond(call, payloads)
}

// manifestFor acknowledges every payload with a sequential gateway id.
func manifestFor(payloads []gateway.Payload, firstID int64) *gateway.BatchResponse {
	msgs := make([]gateway.BatchMessage, 0, len(payloads))
	for i, p := range payloads {
		msgs = append(msgs, gateway.BatchMessage{
			UserRef: p.UserRef,
			ID:      firstID + int64(i),
			Recipients: []gateway.BatchRecipient{
				{MSISDN: p.Recipients[0].MSISDN, Status: "DELIVERED"},
			},
		})
	}
	return &gateway.BatchResponse{Details: &gateway.BatchDetails{Messages: msgs}}
}

func makeMessages(n int) []model.Message {
	msgs := make([]model.Message, 0, n)
	for i := 0; i < n; i++ {
		msgs = append(msgs, model.Message{
			CorrelationID: fmt.Sprintf("corr-%d", i),
			Recipient:     "4512345678",
			Body:          "hi",
			State:         model.Pending,
		})
	}
	return msgs
}

func TestSend_SplitsIntoBoundedGroups(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{
		respond: func(call int, payloads []gateway.Payload) (*gateway.BatchResponse, error) {
			return manifestFor(payloads, int64(call)*1000), nil
		},
	}
	d := dispatch.New(gw, 200, "https://callback.example.com")

	outcomes := d.Send(context.Background(), makeMessages(450), model.Account{Sender: "ACME"})

	if len(gw.calls) != 3 {
		t.Fatalf("gateway calls = %d, want 3", len(gw.calls))
	}
	for i, want := range []int{200, 200, 50} {
		if got := len(gw.calls[i]); got != want {
			t.Errorf("group %d size = %d, want %d", i, got, want)
		}
	}
	if len(outcomes) != 450 {
		t.Fatalf("outcomes = %d, want 450", len(outcomes))
	}
	for _, o := range outcomes {
		if o.State != model.Submitted {
			t.Fatalf("outcome %s state = %s, want submitted", o.CorrelationID, o.State)
		}
		if o.GatewayID == "" {
			t.Fatalf("outcome %s missing gateway id", o.CorrelationID)
		}
	}
}

func TestSend_OneGroupFailureDoesNotAbortOthers(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{
		respond: func(call int, payloads []gateway.Payload) (*gateway.BatchResponse, error) {
			if call == 1 {
				return nil, fmt.Errorf("%w: connection reset", gateway.ErrTransport)
			}
			return manifestFor(payloads, int64(call)*1000), nil
		},
	}
	d := dispatch.New(gw, 200, "")

	outcomes := d.Send(context.Background(), makeMessages(450), model.Account{})

	if len(gw.calls) != 3 {
		t.Fatalf("gateway calls = %d, want 3", len(gw.calls))
	}

	var submitted, failed int
	for _, o := range outcomes {
		switch o.State {
		case model.Submitted:
			submitted++
		case model.Failed:
			failed++
			if o.FailureCategory == nil || *o.FailureCategory != model.FailureServerError {
				t.Fatalf("failed outcome category = %v, want server_error", o.FailureCategory)
			}
			if o.Error == "" {
				t.Fatalf("failed outcome missing error detail")
			}
		}
	}
	if submitted != 250 || failed != 200 {
		t.Fatalf("submitted/failed = %d/%d, want 250/200", submitted, failed)
	}
}

func TestSend_InvalidRecipientsNeverReachGateway(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{
		respond: func(call int, payloads []gateway.Payload) (*gateway.BatchResponse, error) {
			return manifestFor(payloads, 1), nil
		},
	}
	d := dispatch.New(gw, 200, "")

	msgs := []model.Message{
		{CorrelationID: "good", Recipient: "4512345678", Body: "x"},
		{CorrelationID: "bad", Recipient: "", Body: "x"},
		{CorrelationID: "worse", Recipient: "no-digits", Body: "x"},
	}
	outcomes := d.Send(context.Background(), msgs, model.Account{})

	if len(gw.calls) != 1 || len(gw.calls[0]) != 1 {
		t.Fatalf("expected exactly one payload to reach the gateway, got %v", gw.calls)
	}

	byRef := outcomesByRef(outcomes)
	for _, ref := range []string{"bad", "worse"} {
		o := byRef[ref]
		if o.State != model.Failed || o.FailureCategory == nil || *o.FailureCategory != model.FailureInvalidRecipient {
			t.Errorf("outcome %s = %+v, want failed invalid_recipient", ref, o)
		}
	}
	if byRef["good"].State != model.Submitted {
		t.Errorf("outcome good = %+v, want submitted", byRef["good"])
	}
}

func TestSend_ManifestJoin(t *testing.T) {
	t.Parallel()

	errCode := "0x0213"
	gw := &fakeGateway{
		respond: func(call int, payloads []gateway.Payload) (*gateway.BatchResponse, error) {
			return &gateway.BatchResponse{Details: &gateway.BatchDetails{Messages: []gateway.BatchMessage{
				{UserRef: "corr-0", ID: 501, Recipients: []gateway.BatchRecipient{{Status: "DELIVERED"}}},
				{UserRef: "corr-1", ID: 502, Recipients: []gateway.BatchRecipient{{Status: "REJECTED", ErrorCode: &errCode}}},
				// corr-2 deliberately absent from the manifest
			}}}, nil
		},
	}
	d := dispatch.New(gw, 200, "")

	outcomes := d.Send(context.Background(), makeMessages(3), model.Account{})
	byRef := outcomesByRef(outcomes)

	if o := byRef["corr-0"]; o.State != model.Submitted || o.GatewayID != "501" {
		t.Errorf("corr-0 = %+v, want submitted id 501", o)
	}
	if o := byRef["corr-1"]; o.State != model.Failed || o.Error != "REJECTED: 0x0213" {
		t.Errorf("corr-1 = %+v, want failed with rejection detail", o)
	}
	if o := byRef["corr-2"]; o.State != model.Failed || o.FailureCategory == nil || *o.FailureCategory != model.FailureMissingInResponse {
		t.Errorf("corr-2 = %+v, want failed missing_in_response", o)
	}
}

func TestSend_PositionalIDFallback(t *testing.T) {
	t.Parallel()

	t.Run("exact length match maps by position", func(t *testing.T) {
		t.Parallel()

		gw := &fakeGateway{
			respond: func(call int, payloads []gateway.Payload) (*gateway.BatchResponse, error) {
				return &gateway.BatchResponse{IDs: []int64{71, 72, 73}}, nil
			},
		}
		d := dispatch.New(gw, 200, "")

		outcomes := d.Send(context.Background(), makeMessages(3), model.Account{})
		byRef := outcomesByRef(outcomes)

		for i := 0; i < 3; i++ {
			ref := fmt.Sprintf("corr-%d", i)
			wantID := strconv.Itoa(71 + i)
			if o := byRef[ref]; o.State != model.Submitted || o.GatewayID != wantID {
				t.Errorf("%s = %+v, want submitted id %s", ref, o, wantID)
			}
		}
	})

	t.Run("length mismatch fails the whole group", func(t *testing.T) {
		t.Parallel()

		gw := &fakeGateway{
			respond: func(call int, payloads []gateway.Payload) (*gateway.BatchResponse, error) {
				return &gateway.BatchResponse{IDs: []int64{71, 72}}, nil
			},
		}
		d := dispatch.New(gw, 200, "")

		outcomes := d.Send(context.Background(), makeMessages(3), model.Account{})
		for _, o := range outcomes {
			if o.State != model.Failed || o.FailureCategory == nil || *o.FailureCategory != model.FailureUnrecognizedResponse {
				t.Fatalf("outcome %s = %+v, want failed unrecognized_response_format", o.CorrelationID, o)
			}
		}
	})
}

func TestSend_UnrecognizedResponseFailsGroup(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{
		respond: func(call int, payloads []gateway.Payload) (*gateway.BatchResponse, error) {
			return &gateway.BatchResponse{}, nil // neither manifest nor ids
		},
	}
	d := dispatch.New(gw, 200, "")

	outcomes := d.Send(context.Background(), makeMessages(5), model.Account{})
	if len(outcomes) != 5 {
		t.Fatalf("outcomes = %d, want 5", len(outcomes))
	}
	for _, o := range outcomes {
		if o.State != model.Failed || o.FailureCategory == nil || *o.FailureCategory != model.FailureUnrecognizedResponse {
			t.Fatalf("outcome %s = %+v, want failed unrecognized_response_format", o.CorrelationID, o)
		}
	}
}

func TestSend_HooksRecordSideEffects(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{
		respond: func(call int, payloads []gateway.Payload) (*gateway.BatchResponse, error) {
			return manifestFor(payloads, 900), nil
		},
	}

	var (
		mu        sync.Mutex
		submitted = map[string]string{}
		failed    = map[string]model.FailureCategory{}
	)

	d := dispatch.New(gw, 200, "").WithHooks(
		func(ctx context.Context, correlationID, gatewayID string) error {
			mu.Lock()
			defer mu.Unlock()
			submitted[correlationID] = gatewayID
			return nil
		},
		func(ctx context.Context, correlationID string, category model.FailureCategory, reason string) error {
			mu.Lock()
			defer mu.Unlock()
			failed[correlationID] = category
			return nil
		},
	)

	msgs := append(makeMessages(2), model.Message{CorrelationID: "nope", Recipient: "x", Body: "x"})
	d.Send(context.Background(), msgs, model.Account{})

	mu.Lock()
	defer mu.Unlock()

	if submitted["corr-0"] != "900" || submitted["corr-1"] != "901" {
		t.Errorf("submitted hook calls = %v", submitted)
	}
	if failed["nope"] != model.FailureInvalidRecipient {
		t.Errorf("failed hook calls = %v", failed)
	}
}

func outcomesByRef(outcomes []dispatch.Outcome) map[string]dispatch.Outcome {
	m := make(map[string]dispatch.Outcome, len(outcomes))
	for _, o := range outcomes {
		m[o.CorrelationID] = o
	}
	return m
}
