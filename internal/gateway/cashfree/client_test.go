package cashfree

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopstack/payflow/internal/config"
	"github.com/shopstack/payflow/internal/payment/domain"
	"go.uber.org/zap"
)

func testTuning() *config.TuningHolder {
	return config.NewStaticTuningHolder(config.TuningConfig{
		GatewayTimeout:      2 * time.Second,
		GatewayRetryBase:    time.Millisecond,
		GatewayRetryMax:     3,
		VerifyCacheTerminal: true,
	})
}

func newTestClient(baseURL string) *Client {
	tuning := testTuning()
	return &Client{
		cfg: config.GatewayConfig{
			ClientID:     "client_id",
			ClientSecret: "client_secret",
			APIVersion:   "2023-08-01",
		},
		tuning:  tuning,
		log:     zap.NewNop(),
		client:  &http.Client{},
		baseURL: baseURL,
	}
}

func TestCreateOrderSendsAuthHeaders(t *testing.T) {
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		if r.Method != http.MethodPost || r.URL.Path != "/orders" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"cf_order_id":777,"order_id":"ORDER_1_a","payment_session_id":"session_xyz","order_status":"ACTIVE"}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	resp, err := client.CreateOrder(context.Background(), domain.CreateOrderRequest{
		OrderID:       "ORDER_1_a",
		Amount:        4900,
		Currency:      "INR",
		CustomerID:    "guest_1",
		CustomerEmail: "guest@example.com",
		CustomerPhone: "9999999999",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	if resp.PaymentSessionID != "session_xyz" {
		t.Fatalf("session id = %q", resp.PaymentSessionID)
	}
	if resp.GatewayOrderID != "777" {
		t.Fatalf("gateway order id = %q", resp.GatewayOrderID)
	}
	for header, want := range map[string]string{
		"x-client-id":     "client_id",
		"x-client-secret": "client_secret",
		"x-api-version":   "2023-08-01",
	} {
		if got := gotHeaders.Get(header); got != want {
			t.Fatalf("header %s = %q, want %q", header, got, want)
		}
	}
}

func TestCreateOrderRetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"cf_order_id":1,"payment_session_id":"session_retry"}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	resp, err := client.CreateOrder(context.Background(), domain.CreateOrderRequest{
		OrderID: "ORDER_2_b", Amount: 100, Currency: "INR", CustomerID: "c",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if resp.PaymentSessionID != "session_retry" {
		t.Fatalf("session id = %q", resp.PaymentSessionID)
	}
}

func TestCreateOrderDoesNotRetryClientErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"order_id invalid","code":"order_invalid","type":"invalid_request_error"}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.CreateOrder(context.Background(), domain.CreateOrderRequest{
		OrderID: "ORDER_3_c", Amount: 100, Currency: "INR", CustomerID: "c",
	})
	gwErr, ok := domain.IsGatewayError(err)
	if !ok {
		t.Fatalf("err = %v, want gateway error", err)
	}
	if gwErr.Retryable {
		t.Fatal("4xx marked retryable")
	}
	if gwErr.Code != "gateway_rejected" {
		t.Fatalf("code = %q, want gateway_rejected", gwErr.Code)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestCreateOrderRejectsMissingSessionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"cf_order_id":5,"order_id":"ORDER_4_d"}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.CreateOrder(context.Background(), domain.CreateOrderRequest{
		OrderID: "ORDER_4_d", Amount: 100, Currency: "INR", CustomerID: "c",
	})
	gwErr, ok := domain.IsGatewayError(err)
	if !ok {
		t.Fatalf("err = %v, want gateway error", err)
	}
	if gwErr.Code != "gateway_missing_session" {
		t.Fatalf("code = %q", gwErr.Code)
	}
}

func TestCreateOrderRequiresCredentials(t *testing.T) {
	client := newTestClient("http://unused")
	client.cfg = config.GatewayConfig{}

	_, err := client.CreateOrder(context.Background(), domain.CreateOrderRequest{
		OrderID: "ORDER_5_e", Amount: 100, Currency: "INR", CustomerID: "c",
	})
	if err != config.ErrMissingGatewayCredentials {
		t.Fatalf("err = %v, want ErrMissingGatewayCredentials", err)
	}
}

func TestGetOrderStatusMapsPayments(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		status  domain.EventStatus
		payment string
	}{
		{"success", `[{"cf_payment_id":42,"payment_status":"SUCCESS","payment_amount":49.00,"payment_currency":"INR"}]`, domain.EventSuccess, "42"},
		{"failed", `[{"cf_payment_id":43,"payment_status":"FAILED","payment_amount":49.00}]`, domain.EventFailed, "43"},
		{"user dropped", `[{"cf_payment_id":44,"payment_status":"USER_DROPPED"}]`, domain.EventFailed, "44"},
		{"not attempted", `[{"cf_payment_id":45,"payment_status":"NOT_ATTEMPTED"}]`, domain.EventPending, "45"},
		{"no attempts", `[]`, domain.EventPending, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/orders/ORDER_6_f/payments" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			client := newTestClient(srv.URL)
			evt, err := client.GetOrderStatus(context.Background(), "ORDER_6_f")
			if err != nil {
				t.Fatalf("get status: %v", err)
			}
			if evt.ReportedStatus != tc.status {
				t.Fatalf("status = %s, want %s", evt.ReportedStatus, tc.status)
			}
			if evt.GatewayPaymentID != tc.payment {
				t.Fatalf("payment id = %q, want %q", evt.GatewayPaymentID, tc.payment)
			}
			if evt.Source != domain.SourcePoll {
				t.Fatalf("source = %q", evt.Source)
			}
			if evt.PayloadDigest == "" {
				t.Fatal("poll digest empty")
			}
		})
	}
}

func TestGetOrderStatusPrefersSuccessfulAttempt(t *testing.T) {
	body := `[
		{"cf_payment_id":51,"payment_status":"FAILED","payment_amount":49.00},
		{"cf_payment_id":52,"payment_status":"SUCCESS","payment_amount":49.00,"payment_currency":"INR"},
		{"cf_payment_id":53,"payment_status":"USER_DROPPED"}
	]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	evt, err := client.GetOrderStatus(context.Background(), "ORDER_8_h")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if evt.ReportedStatus != domain.EventSuccess {
		t.Fatalf("status = %s, want SUCCESS", evt.ReportedStatus)
	}
	if evt.GatewayPaymentID != "52" {
		t.Fatalf("payment id = %q, want 52", evt.GatewayPaymentID)
	}
}

func TestRequestDeadlineComesFromTuning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	client.tuning = config.NewStaticTuningHolder(config.TuningConfig{
		GatewayTimeout:   5 * time.Millisecond,
		GatewayRetryBase: time.Millisecond,
		GatewayRetryMax:  1,
	})

	_, err := client.GetOrderStatus(context.Background(), "ORDER_9_i")
	gwErr, ok := domain.IsGatewayError(err)
	if !ok {
		t.Fatalf("err = %v, want gateway error", err)
	}
	if gwErr.Code != "gateway_unreachable" {
		t.Fatalf("code = %q, want gateway_unreachable", gwErr.Code)
	}
	if !gwErr.Retryable {
		t.Fatal("timeout not marked retryable")
	}
}

func TestPollDigestIsStable(t *testing.T) {
	a := pollDigest("ORDER_7_g", "42", "SUCCESS")
	b := pollDigest("ORDER_7_g", "42", "SUCCESS")
	c := pollDigest("ORDER_7_g", "42", "FAILED")
	if a != b {
		t.Fatal("identical poll states produced different digests")
	}
	if a == c {
		t.Fatal("different poll states collided")
	}
}
