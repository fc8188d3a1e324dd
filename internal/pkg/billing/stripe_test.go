package billing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/TenantDesk/app/models"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/apperror"
)

type recordedRequest struct {
	Method         string
	Path           string
	Form           url.Values
	IdempotencyKey string
}

// stripeStub answers Stripe API calls from a route table keyed by "METHOD /path"
type stripeStub struct {
	mu       sync.Mutex
	requests []recordedRequest
	routes   map[string]func(w http.ResponseWriter)
}

func newStripeStub(t *testing.T) (*stripeStub, *StripeGateway) {
	t.Helper()
	stub := &stripeStub{routes: map[string]func(w http.ResponseWriter){}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		stub.mu.Lock()
		stub.requests = append(stub.requests, recordedRequest{
			Method:         r.Method,
			Path:           r.URL.Path,
			Form:           r.Form,
			IdempotencyKey: r.Header.Get("Idempotency-Key"),
		})
		handler, ok := stub.routes[r.Method+" "+r.URL.Path]
		stub.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"No such resource"}}`))
			return
		}
		handler(w)
	}))
	t.Cleanup(srv.Close)

	gw := NewStripeGateway(StripeConfig{
		SecretKey: "sk_test_123",
		Timeout:   5 * time.Second,
		BaseURL:   srv.URL,
	})
	return stub, gw
}

func (s *stripeStub) on(route string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[route] = func(w http.ResponseWriter) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func (s *stripeStub) find(method, path string) *recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.requests {
		if s.requests[i].Method == method && s.requests[i].Path == path {
			return &s.requests[i]
		}
	}
	return nil
}

func TestStripeCreateProductMonthly(t *testing.T) {
	stub, gw := newStripeStub(t)
	stub.on("POST /v1/products", http.StatusOK, `{"id":"prod_123","object":"product","active":true}`)
	stub.on("POST /v1/prices", http.StatusOK, `{"id":"price_456","object":"price"}`)

	res, err := gw.CreateProduct(context.Background(), ProductSpec{
		Name:           "Pro",
		Description:    "For growing teams",
		BillingType:    models.BILLING_TYPE_MONTHLY,
		Amount:         2900,
		Currency:       "USD",
		Metadata:       map[string]string{MetaTenantID: "1"},
		IdempotencyKey: "abc",
	})
	require.NoError(t, err)
	assert.Equal(t, "prod_123", res.ProductID)
	assert.Equal(t, map[string]string{models.BILLING_TYPE_MONTHLY: "price_456"}, res.Prices)

	prod := stub.find(http.MethodPost, "/v1/products")
	require.NotNil(t, prod)
	assert.Equal(t, "Pro", prod.Form.Get("name"))
	assert.Equal(t, "1", prod.Form.Get("metadata[tenant_id]"))
	assert.Equal(t, "abc:product", prod.IdempotencyKey)

	price := stub.find(http.MethodPost, "/v1/prices")
	require.NotNil(t, price)
	assert.Equal(t, "2900", price.Form.Get("unit_amount"))
	assert.Equal(t, "usd", price.Form.Get("currency"))
	assert.Equal(t, "prod_123", price.Form.Get("product"))
	assert.Equal(t, "month", price.Form.Get("recurring[interval]"))
	assert.Equal(t, "1", price.Form.Get("metadata[tenant_id]"))
	assert.Equal(t, "abc:price:monthly", price.IdempotencyKey)
}

func TestStripeCreateProductUnitWithoutMeter(t *testing.T) {
	stub, gw := newStripeStub(t)
	stub.on("POST /v1/products", http.StatusOK, `{"id":"prod_1","object":"product"}`)
	stub.on("POST /v1/prices", http.StatusOK, `{"id":"price_1","object":"price"}`)

	_, err := gw.CreateProduct(context.Background(), ProductSpec{
		Name:        "Credits",
		BillingType: models.BILLING_TYPE_UNIT,
		Amount:      50,
		Currency:    "eur",
	})
	require.NoError(t, err)

	price := stub.find(http.MethodPost, "/v1/prices")
	require.NotNil(t, price)
	assert.Empty(t, price.Form.Get("recurring[interval]"))
	assert.Equal(t, "50", price.Form.Get("unit_amount"))
	assert.Equal(t, "unit", price.Form.Get("metadata[billing_type]"))
}

func TestStripeCreateProductArchivesOnPriceFailure(t *testing.T) {
	stub, gw := newStripeStub(t)
	stub.on("POST /v1/products", http.StatusOK, `{"id":"prod_9","object":"product"}`)
	stub.on("POST /v1/prices", http.StatusBadRequest, `{"error":{"type":"invalid_request_error","message":"Invalid currency"}}`)
	stub.on("POST /v1/products/prod_9", http.StatusOK, `{"id":"prod_9","object":"product","active":false}`)

	_, err := gw.CreateProduct(context.Background(), ProductSpec{
		Name:        "Broken",
		BillingType: models.BILLING_TYPE_YEARLY,
		Amount:      100,
		Currency:    "xxx",
	})
	require.Error(t, err)
	assert.Equal(t, apperror.KindGateway, apperror.KindOf(err))

	archive := stub.find(http.MethodPost, "/v1/products/prod_9")
	require.NotNil(t, archive)
	assert.Equal(t, "false", archive.Form.Get("active"))
}

func TestStripeGetCustomerNotFound(t *testing.T) {
	_, gw := newStripeStub(t)
	_, err := gw.GetCustomer(context.Background(), "cus_missing")
	require.Error(t, err)
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}

func TestStripeListCustomersForTenant(t *testing.T) {
	stub, gw := newStripeStub(t)
	stub.on("GET /v1/customers/search", http.StatusOK, `{
		"object": "search_result",
		"url": "/v1/customers/search",
		"has_more": false,
		"data": [
			{"id": "cus_1", "object": "customer", "name": "Globex", "email": "a@globex.example", "metadata": {"tenant_id": "1"}}
		]
	}`)

	customers, err := gw.ListCustomersForTenant(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, customers, 1)
	assert.Equal(t, "cus_1", customers[0].ID)
	assert.Equal(t, "1", customers[0].TenantID())

	search := stub.find(http.MethodGet, "/v1/customers/search")
	require.NotNil(t, search)
	assert.Equal(t, "metadata['tenant_id']:'1'", search.Form.Get("query"))
}

func TestStripeCancelSubscription(t *testing.T) {
	stub, gw := newStripeStub(t)
	stub.on("DELETE /v1/subscriptions/sub_1", http.StatusOK, `{"id":"sub_1","object":"subscription","status":"canceled","customer":"cus_1"}`)
	stub.on("POST /v1/subscriptions/sub_2", http.StatusOK, `{"id":"sub_2","object":"subscription","status":"active","cancel_at_period_end":true,"customer":"cus_1"}`)

	sub, err := gw.CancelSubscription(context.Background(), "sub_1", true)
	require.NoError(t, err)
	assert.Equal(t, "canceled", sub.Status)
	assert.Equal(t, "cus_1", sub.CustomerID)

	sub, err = gw.CancelSubscription(context.Background(), "sub_2", false)
	require.NoError(t, err)
	assert.True(t, sub.CancelAtPeriodEnd)
	req := stub.find(http.MethodPost, "/v1/subscriptions/sub_2")
	require.NotNil(t, req)
	assert.Equal(t, "true", req.Form.Get("cancel_at_period_end"))
}

func TestStripeCreateUnitInvoice(t *testing.T) {
	stub, gw := newStripeStub(t)
	stub.on("POST /v1/invoiceitems", http.StatusOK, `{"id":"ii_1","object":"invoiceitem"}`)
	stub.on("POST /v1/invoices", http.StatusOK, `{"id":"in_1","object":"invoice","status":"draft"}`)
	stub.on("POST /v1/invoices/in_1/finalize", http.StatusOK, `{"id":"in_1","object":"invoice","status":"open","amount_due":1000,"currency":"usd"}`)

	inv, err := gw.CreateUnitInvoice(context.Background(), InvoiceInput{
		CustomerID:     "cus_1",
		Amount:         1000,
		Currency:       "USD",
		Description:    "Credits (4 units)",
		Metadata:       map[string]string{MetaTenantID: "1"},
		IdempotencyKey: "k",
	})
	require.NoError(t, err)
	assert.Equal(t, "in_1", inv.ID)
	assert.Equal(t, "open", inv.Status)
	assert.Equal(t, int64(1000), inv.AmountDue)

	item := stub.find(http.MethodPost, "/v1/invoiceitems")
	require.NotNil(t, item)
	assert.Equal(t, "1000", item.Form.Get("amount"))
	assert.Equal(t, "usd", item.Form.Get("currency"))
	assert.Equal(t, "k:invoice-item", item.IdempotencyKey)

	invoice := stub.find(http.MethodPost, "/v1/invoices")
	require.NotNil(t, invoice)
	assert.Equal(t, "send_invoice", invoice.Form.Get("collection_method"))
	assert.Equal(t, "include", invoice.Form.Get("pending_invoice_items_behavior"))
}

func TestStripeListInvoices(t *testing.T) {
	stub, gw := newStripeStub(t)
	stub.on("GET /v1/invoices", http.StatusOK, `{
		"object": "list",
		"url": "/v1/invoices",
		"has_more": false,
		"data": [
			{"id": "in_2", "object": "invoice", "number": "ACME-0002", "status": "paid", "amount_due": 1000, "amount_paid": 1000, "currency": "usd", "customer": "cus_1", "created": 1760000000, "hosted_invoice_url": "https://pay.example/in_2"},
			{"id": "in_1", "object": "invoice", "number": "ACME-0001", "status": "open", "amount_due": 500, "amount_paid": 0, "currency": "usd", "customer": "cus_1", "created": 1750000000}
		]
	}`)

	invoices, err := gw.ListInvoices(context.Background(), "cus_1")
	require.NoError(t, err)
	require.Len(t, invoices, 2)
	assert.Equal(t, "ACME-0002", invoices[0].Number)
	assert.Equal(t, "paid", invoices[0].Status)
	assert.Equal(t, int64(1000), invoices[0].AmountPaid)
	assert.Equal(t, "cus_1", invoices[0].CustomerID)
	assert.Equal(t, "https://pay.example/in_2", invoices[0].HostedURL)
	assert.Equal(t, time.Unix(1760000000, 0), invoices[0].Created)
	assert.Equal(t, "open", invoices[1].Status)

	req := stub.find(http.MethodGet, "/v1/invoices")
	require.NotNil(t, req)
	assert.Equal(t, "cus_1", req.Form.Get("customer"))
}
