package toss

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mihaimyh/gorebill/pkg/gateway"
	"github.com/mihaimyh/gorebill/pkg/rebill"
)

const testSecretKey = "test_sk_demo"

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{
		SecretKey: testSecretKey,
		BaseURL:   baseURL,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestNewClient_RequiresSecretKey(t *testing.T) {
	if _, err := NewClient(ClientConfig{}); !errors.Is(err, gateway.ErrProviderNotConfigured) {
		t.Errorf("got %v, want ErrProviderNotConfigured", err)
	}
	if _, err := NewClient(ClientConfig{SecretKey: "   "}); !errors.Is(err, gateway.ErrProviderNotConfigured) {
		t.Errorf("blank key: got %v, want ErrProviderNotConfigured", err)
	}
}

func TestCharge_Success(t *testing.T) {
	var gotAuth string
	var gotBody chargeBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/billing/pay" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(chargeResponse{Status: "DONE", OrderID: gotBody.OrderID})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	res, err := client.Charge(context.Background(), &rebill.ChargeRequest{
		BillingKey:  "bkey_1",
		CustomerKey: "cust_1",
		Amount:      29900,
		OrderID:     "order_1",
		OrderName:   "pro monthly subscription",
	})
	if err != nil {
		t.Fatalf("Charge: %v", err)
	}
	if !res.Success || res.OrderID != "order_1" {
		t.Errorf("result = %+v", res)
	}

	wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte(testSecretKey+":"))
	if gotAuth != wantAuth {
		t.Errorf("authorization = %q, want %q", gotAuth, wantAuth)
	}
	if gotBody.BillingKey != "bkey_1" || gotBody.CustomerKey != "cust_1" || gotBody.Amount != 29900 {
		t.Errorf("request body = %+v", gotBody)
	}
}

func TestCharge_GeneratesOrderIDWhenMissing(t *testing.T) {
	var gotOrderID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body chargeBody
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotOrderID = body.OrderID
		_ = json.NewEncoder(w).Encode(chargeResponse{Status: "DONE"})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	res, err := client.Charge(context.Background(), &rebill.ChargeRequest{
		BillingKey:  "bkey_1",
		CustomerKey: "cust_1",
		Amount:      9900,
	})
	if err != nil {
		t.Fatalf("Charge: %v", err)
	}
	if gotOrderID == "" {
		t.Fatal("no order ID generated")
	}
	if res.OrderID != gotOrderID {
		t.Errorf("result order %q != sent order %q", res.OrderID, gotOrderID)
	}
}

func TestCharge_GatewayRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(chargeResponse{Status: "ABORTED", Message: "카드 한도 초과"})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	res, err := client.Charge(context.Background(), &rebill.ChargeRequest{
		BillingKey: "bkey_1", CustomerKey: "cust_1", Amount: 29900,
	})
	if err != nil {
		t.Fatalf("rejection must not be a transport error: %v", err)
	}
	if res.Success {
		t.Error("rejected charge reported success")
	}
	if res.Message != "카드 한도 초과" {
		t.Errorf("message = %q, want gateway message", res.Message)
	}
}

// A 200 with a settlement status other than DONE is still a failure.
func TestCharge_NonDoneSettlement(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chargeResponse{Status: "IN_PROGRESS"})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	res, err := client.Charge(context.Background(), &rebill.ChargeRequest{
		BillingKey: "bkey_1", CustomerKey: "cust_1", Amount: 29900,
	})
	if err != nil {
		t.Fatalf("Charge: %v", err)
	}
	if res.Success {
		t.Error("non-DONE settlement reported success")
	}
	if res.Message == "" {
		t.Error("expected a synthesized failure message")
	}
}

func TestCharge_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	client := newTestClient(t, srv.URL)
	_, err := client.Charge(context.Background(), &rebill.ChargeRequest{
		BillingKey: "bkey_1", CustomerKey: "cust_1", Amount: 29900,
	})
	if !errors.Is(err, gateway.ErrGatewayAPIError) {
		t.Errorf("got %v, want ErrGatewayAPIError", err)
	}
}

func TestNewOrderID(t *testing.T) {
	a := NewOrderID()
	b := NewOrderID()
	if a == b {
		t.Error("consecutive order IDs collide")
	}
	if !strings.HasPrefix(a, "order_") {
		t.Errorf("order ID %q missing prefix", a)
	}
}
