package core_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"crm-finance/internal/core"
	"crm-finance/migrations"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type testEnv struct {
	pool     *pgxpool.Pool
	fc       *core.FinancialContext
	orders   core.OrderService
	items    core.OpenItemService
	recon    core.Reconciler
	invoices core.InvoiceService
	reports  core.ReportingService
	ctx      context.Context
}

func setupTestDB(t *testing.T) *testEnv {
	t.Helper()
	_ = godotenv.Load("../../.env")

	// Use a dedicated TEST database; every table is truncated.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := migrations.Apply(ctx, pool, zerolog.Nop()); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE invoices, payment_reminders, settlements, receivables, payables,
		               payment_submissions, orders, document_sequences, inventory, users
		RESTART IDENTITY CASCADE;

		INSERT INTO users (username, email, role) VALUES
		('finance', 'finance@example.com', 'finance'),
		('sales',   'sales@example.com',   'sales');
	`)
	if err != nil {
		t.Fatalf("Failed to seed test database: %v", err)
	}

	fc := &core.FinancialContext{
		SellerState:         "Haryana",
		SettlementTolerance: dec("1.00"),
		Rates:               core.NewRateBook(core.DefaultReferenceRates()),
		Finance:             core.NewFinanceDirectory(pool),
		Inventory:           core.NewInventoryCatalog(pool),
		Numbers:             core.NewNumberingService(pool),
		Clock:               func() time.Time { return time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC) },
		Log:                 zerolog.Nop(),
	}
	return &testEnv{
		pool:     pool,
		fc:       fc,
		orders:   core.NewOrderService(pool, fc),
		items:    core.NewOpenItemService(pool, fc),
		recon:    core.NewReconciler(pool, fc),
		invoices: core.NewInvoiceService(pool, fc),
		reports:  core.NewReportingService(pool, fc),
		ctx:      ctx,
	}
}

func proformaInput(leadID int) core.OrderInput {
	return core.OrderInput{
		LeadID:          &leadID,
		ClientName:      "Acme Travels",
		IndianState:     "Haryana",
		CategoryOfSale:  "Retail",
		TypeOfSale:      "Tour",
		CustomerType:    "indian",
		PaymentCurrency: "INR",
		EventName:       "Abu Dhabi Grand Prix",
		BaseAmount:      dec("100000"),
		AssignedTo:      "sales@example.com",
	}
}

func TestNumbering_SequentialPerFinancialYear(t *testing.T) {
	env := setupTestDB(t)

	at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	first, err := env.fc.Numbers.Next(env.ctx, core.SeriesTaxInvoice, at)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if first != "INV-2627-00001" {
		t.Errorf("first number: got %s", first)
	}

	var wg sync.WaitGroup
	results := make(chan string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := env.fc.Numbers.Next(env.ctx, core.SeriesTaxInvoice, at)
			if err != nil {
				t.Errorf("concurrent Next: %v", err)
				return
			}
			results <- n
		}()
	}
	wg.Wait()
	close(results)
	seen := map[string]bool{first: true}
	for n := range results {
		if seen[n] {
			t.Errorf("duplicate number %s", n)
		}
		seen[n] = true
	}
	if len(seen) != 11 {
		t.Errorf("expected 11 distinct numbers, got %d", len(seen))
	}

	// March belongs to the previous financial year.
	prev, err := env.fc.Numbers.Next(env.ctx, core.SeriesTaxInvoice, time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if prev != "INV-2526-00001" {
		t.Errorf("previous FY number: got %s", prev)
	}
}

func TestOrderService_ProformaConversion(t *testing.T) {
	env := setupTestDB(t)

	pro, err := env.orders.CreateProforma(env.ctx, proformaInput(501))
	if err != nil {
		t.Fatalf("CreateProforma failed: %v", err)
	}
	if !strings.HasPrefix(pro.OrderNumber, "PRO-") || !strings.HasPrefix(pro.InvoiceNumber, "PFI-") {
		t.Errorf("proforma numbers: %s / %s", pro.OrderNumber, pro.InvoiceNumber)
	}
	if pro.Status != core.StatusPendingApproval {
		t.Errorf("proforma status: %s", pro.Status)
	}
	open, err := env.items.ListOpen(env.ctx, core.KindReceivable, core.OpenItemFilter{OrderID: &pro.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 || !open[0].BalanceAmount.Equal(dec("105000")) {
		t.Fatalf("expected one receivable of 105000, got %+v", open)
	}

	sub := core.PaymentSubmission{
		IdempotencyKey: "pay-501-1",
		LeadID:         501,
		Order:          proformaInput(501),
		AmountPaid:     dec("105000"),
		SubmittedBy:    "sales@example.com",
	}
	sub.Order.GSTIN = "06ABCDE1234F1Z5"

	res, err := env.orders.CollectPayment(env.ctx, sub)
	if err != nil {
		t.Fatalf("CollectPayment failed: %v", err)
	}
	if !res.Converted || res.Created || res.Replayed {
		t.Errorf("flags: converted=%t created=%t replayed=%t", res.Converted, res.Created, res.Replayed)
	}
	o := res.Order
	if o.ID != pro.ID {
		t.Errorf("converted a different order: %d != %d", o.ID, pro.ID)
	}
	if !strings.HasPrefix(o.OrderNumber, "ORD-") || o.ProformaOrderNumber != pro.OrderNumber || o.ProformaInvoiceNumber != pro.InvoiceNumber {
		t.Errorf("numbers after conversion: %s (was %s / %s)", o.OrderNumber, o.ProformaOrderNumber, o.ProformaInvoiceNumber)
	}
	if o.InvoiceType != core.InvoiceTax || o.Status != core.StatusPaymentReceived || o.OrderType != core.OrderTypeStandard {
		t.Errorf("order after conversion: %s %s %s", o.InvoiceType, o.Status, o.OrderType)
	}
	if o.AssignedTo != "finance@example.com" || o.OriginalAssignee != "sales@example.com" {
		t.Errorf("assignment: %s (original %s)", o.AssignedTo, o.OriginalAssignee)
	}
	if o.GSTIN != "06ABCDE1234F1Z5" {
		t.Errorf("payment-time GSTIN not applied: %q", o.GSTIN)
	}
	if res.Reconciliation == nil || res.Reconciliation.Outcome != core.OutcomeSettled {
		t.Errorf("expected receivable settled, got %+v", res.Reconciliation)
	}
	if o.PaymentStatus != core.PaymentPaid {
		t.Errorf("payment status: %s", o.PaymentStatus)
	}

	// Same key: replay, nothing changes.
	again, err := env.orders.CollectPayment(env.ctx, sub)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !again.Replayed || again.Order.ID != o.ID || again.Order.OrderNumber != o.OrderNumber {
		t.Errorf("replay: %+v", again)
	}
	var submissions int
	if err := env.pool.QueryRow(env.ctx, "SELECT COUNT(*) FROM payment_submissions WHERE lead_id = 501").Scan(&submissions); err != nil {
		t.Fatal(err)
	}
	if submissions != 1 {
		t.Errorf("expected 1 submission row, got %d", submissions)
	}

	// Different key against a settled order: nothing is left to pay into.
	sub.IdempotencyKey = "pay-501-2"
	_, err = env.orders.CollectPayment(env.ctx, sub)
	var conflict *core.ReconciliationConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ReconciliationConflictError for a payment on a settled order, got %v", err)
	}
	after, err := env.orders.GetOrder(env.ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if after.Version != o.Version || !after.AmountPaid.Equal(o.AmountPaid) || after.OrderNumber != o.OrderNumber {
		t.Errorf("rejected payment changed the order: version %d paid %s", after.Version, after.AmountPaid)
	}
	if err := env.pool.QueryRow(env.ctx, "SELECT COUNT(*) FROM payment_submissions WHERE lead_id = 501").Scan(&submissions); err != nil {
		t.Fatal(err)
	}
	if submissions != 1 {
		t.Errorf("rejected payment left a submission row: %d rows", submissions)
	}
}

func TestOrderService_FurtherPaymentSettlesReceivable(t *testing.T) {
	env := setupTestDB(t)

	pro, err := env.orders.CreateProforma(env.ctx, proformaInput(502))
	if err != nil {
		t.Fatal(err)
	}
	sub := core.PaymentSubmission{
		IdempotencyKey: "pay-502-1",
		LeadID:         502,
		Order:          proformaInput(502),
		AmountPaid:     dec("60000"),
		Resolution:     core.ResolutionCarryForward,
	}
	first, err := env.orders.CollectPayment(env.ctx, sub)
	if err != nil {
		t.Fatalf("first payment failed: %v", err)
	}
	if first.Reconciliation == nil || first.Reconciliation.Outcome != core.OutcomeCarriedForward {
		t.Fatalf("first payment should carry forward: %+v", first.Reconciliation)
	}
	if first.Order.PaymentStatus != core.PaymentPartial || !first.Order.AmountPaid.Equal(dec("60000")) {
		t.Errorf("after first payment: %s paid %s", first.Order.PaymentStatus, first.Order.AmountPaid)
	}

	sub.IdempotencyKey = "pay-502-2"
	sub.AmountPaid = dec("45000")
	sub.Resolution = ""
	second, err := env.orders.CollectPayment(env.ctx, sub)
	if err != nil {
		t.Fatalf("second payment failed: %v", err)
	}
	if !second.Applied || second.Converted || second.Created || second.Replayed {
		t.Errorf("flags: applied=%t converted=%t created=%t replayed=%t",
			second.Applied, second.Converted, second.Created, second.Replayed)
	}
	if second.Order.ID != pro.ID || second.Order.OrderNumber != first.Order.OrderNumber {
		t.Errorf("second payment went to order %d %s", second.Order.ID, second.Order.OrderNumber)
	}
	if second.Reconciliation == nil || second.Reconciliation.Outcome != core.OutcomeSettled {
		t.Errorf("second payment should settle the receivable: %+v", second.Reconciliation)
	}
	if second.Order.PaymentStatus != core.PaymentPaid || !second.Order.AmountPaid.Equal(dec("105000")) {
		t.Errorf("after second payment: %s paid %s", second.Order.PaymentStatus, second.Order.AmountPaid)
	}
	open, err := env.items.ListOpen(env.ctx, core.KindReceivable, core.OpenItemFilter{OrderID: &pro.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 0 {
		t.Errorf("receivable should be settled, %d open", len(open))
	}
}

func TestOrderService_ForeignProformaPaidAtNewRate(t *testing.T) {
	env := setupTestDB(t)

	noTCS := false
	in := proformaInput(503)
	in.PaymentCurrency = "USD"
	in.ExchangeRate = dec("83")
	in.BaseAmount = dec("1000")
	in.TCSApplicable = &noTCS

	pro, err := env.orders.CreateProforma(env.ctx, in)
	if err != nil {
		t.Fatalf("CreateProforma failed: %v", err)
	}
	open, err := env.items.ListOpen(env.ctx, core.KindReceivable, core.OpenItemFilter{OrderID: &pro.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 {
		t.Fatalf("expected one receivable, got %d", len(open))
	}
	rcv := open[0]
	if rcv.Currency != core.CurrencyUSD || !rcv.BalanceAmount.Equal(dec("1050")) || !rcv.ExchangeRate.Equal(dec("83")) {
		t.Errorf("receivable: %s %s @ %s", rcv.Currency, rcv.BalanceAmount, rcv.ExchangeRate)
	}
	if !rcv.Amount.Equal(dec("87150")) {
		t.Errorf("receivable INR value: %s", rcv.Amount)
	}

	paid := in
	paid.ExchangeRate = dec("85")
	res, err := env.orders.CollectPayment(env.ctx, core.PaymentSubmission{
		IdempotencyKey: "pay-503-1",
		LeadID:         503,
		Order:          paid,
		AmountPaid:     dec("1050"),
	})
	if err != nil {
		t.Fatalf("CollectPayment failed: %v", err)
	}
	rec := res.Reconciliation
	if rec == nil || rec.Outcome != core.OutcomeSettled {
		t.Fatalf("expected the receivable settled, got %+v", rec)
	}
	if !rec.Entry.FxDifference.Equal(dec("2100")) || rec.Entry.FxType != core.FxGain || !rec.FxImpact.Equal(dec("2100")) {
		t.Errorf("fx: difference %s type %s impact %s", rec.Entry.FxDifference, rec.Entry.FxType, rec.FxImpact)
	}
	if !rec.Entry.AmountINR.Equal(dec("89250")) {
		t.Errorf("INR received: %s", rec.Entry.AmountINR)
	}
	o := res.Order
	if o.PaymentStatus != core.PaymentPaid || !o.AmountPaid.Equal(dec("1050")) || !o.ExchangeRate.Equal(dec("85")) {
		t.Errorf("order: %s paid %s rate %s", o.PaymentStatus, o.AmountPaid, o.ExchangeRate)
	}
}

func TestOrderService_ForeignProformaPaidAtLowerRate(t *testing.T) {
	env := setupTestDB(t)

	noTCS := false
	in := proformaInput(504)
	in.PaymentCurrency = "USD"
	in.ExchangeRate = dec("83")
	in.BaseAmount = dec("1000")
	in.TCSApplicable = &noTCS
	if _, err := env.orders.CreateProforma(env.ctx, in); err != nil {
		t.Fatal(err)
	}

	in.ExchangeRate = dec("81")
	res, err := env.orders.CollectPayment(env.ctx, core.PaymentSubmission{
		IdempotencyKey: "pay-504-1",
		LeadID:         504,
		Order:          in,
		AmountPaid:     dec("1050"),
	})
	if err != nil {
		t.Fatalf("CollectPayment failed: %v", err)
	}
	rec := res.Reconciliation
	if rec == nil || rec.Outcome != core.OutcomeSettled {
		t.Fatalf("expected the receivable settled, got %+v", rec)
	}
	if !rec.Entry.FxDifference.Equal(dec("-2100")) || rec.Entry.FxType != core.FxLoss || !rec.FxImpact.Equal(dec("-2100")) {
		t.Errorf("fx: difference %s type %s impact %s", rec.Entry.FxDifference, rec.Entry.FxType, rec.FxImpact)
	}
}

func TestOrderService_PaymentWithoutOrderCreatesTaxOrder(t *testing.T) {
	env := setupTestDB(t)

	res, err := env.orders.CollectPayment(env.ctx, core.PaymentSubmission{
		IdempotencyKey: "walk-in-1",
		LeadID:         777,
		Order:          proformaInput(777),
		AmountPaid:     dec("50000"),
	})
	if err != nil {
		t.Fatalf("CollectPayment failed: %v", err)
	}
	if !res.Created || res.Order.Status != core.StatusPaymentReceived || res.Order.InvoiceType != core.InvoiceTax {
		t.Errorf("created order: %+v", res.Order)
	}
	if res.Order.PaymentStatus != core.PaymentPartial || !res.Order.AmountPaid.Equal(dec("50000")) {
		t.Errorf("payment: %s %s", res.Order.PaymentStatus, res.Order.AmountPaid)
	}

	// The unpaid remainder is tracked as a receivable.
	open, err := env.items.ListOpen(env.ctx, core.KindReceivable, core.OpenItemFilter{OrderID: &res.Order.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 {
		t.Fatalf("expected one receivable for the remainder, got %d", len(open))
	}
	if open[0].Currency != core.CurrencyINR || !open[0].BalanceAmount.Equal(dec("55000")) || !open[0].OriginalAmount.Equal(dec("55000")) {
		t.Errorf("remainder receivable: %s %s (original %s)", open[0].Currency, open[0].BalanceAmount, open[0].OriginalAmount)
	}
}

func TestOrderService_PartialPaymentOnUnlinkedOrderOpensReceivable(t *testing.T) {
	env := setupTestDB(t)

	o, err := env.orders.CreateOrder(env.ctx, proformaInput(778))
	if err != nil {
		t.Fatal(err)
	}
	res, err := env.orders.CollectPayment(env.ctx, core.PaymentSubmission{
		IdempotencyKey: "walk-in-2",
		LeadID:         778,
		Order:          proformaInput(778),
		AmountPaid:     dec("80000"),
	})
	if err != nil {
		t.Fatalf("CollectPayment failed: %v", err)
	}
	if !res.Converted || res.Order.ID != o.ID || res.Reconciliation != nil {
		t.Errorf("conversion: converted=%t order %d reconciliation %+v", res.Converted, res.Order.ID, res.Reconciliation)
	}
	if res.Order.PaymentStatus != core.PaymentPartial || !res.Order.AmountPaid.Equal(dec("80000")) {
		t.Errorf("payment: %s %s", res.Order.PaymentStatus, res.Order.AmountPaid)
	}
	open, err := env.items.ListOpen(env.ctx, core.KindReceivable, core.OpenItemFilter{OrderID: &o.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 || !open[0].BalanceAmount.Equal(dec("25000")) {
		t.Errorf("expected a receivable of 25000, got %+v", open)
	}
}

func TestOrderService_StateTransitionGuards(t *testing.T) {
	env := setupTestDB(t)

	o, err := env.orders.CreateOrder(env.ctx, proformaInput(9))
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.orders.Complete(env.ctx, o.ID, core.StatusCompleted)
	var it *core.InvalidTransitionError
	if !errors.As(err, &it) {
		t.Errorf("new -> completed: expected InvalidTransitionError, got %v", err)
	}
	if _, err := env.orders.Reject(env.ctx, o.ID, ""); err == nil {
		t.Error("reject without reason should fail")
	}
	if o, err = env.orders.Submit(env.ctx, o.ID); err != nil {
		t.Fatal(err)
	}
	if o, err = env.orders.Approve(env.ctx, o.ID, "finance@example.com"); err != nil {
		t.Fatal(err)
	}
	if o.ApprovedAt == nil {
		t.Error("approved_at not set")
	}
	if o, err = env.orders.Cancel(env.ctx, o.ID, "client withdrew"); err != nil {
		t.Fatal(err)
	}
	open, err := env.items.ListOpen(env.ctx, core.KindReceivable, core.OpenItemFilter{OrderID: &o.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 0 {
		t.Errorf("cancel should remove receivables, %d left", len(open))
	}
	if _, err := env.orders.Cancel(env.ctx, o.ID, "again"); !errors.As(err, &it) {
		t.Errorf("cancelled -> cancelled: expected InvalidTransitionError, got %v", err)
	}
}

func TestReconciler_ForeignPayableCarryForwardThenSettle(t *testing.T) {
	env := setupTestDB(t)

	item, err := env.items.Create(env.ctx, core.OpenItemInput{
		Kind:           core.KindPayable,
		Counterparty:   "Yas Hospitality",
		Currency:       "USD",
		OriginalAmount: dec("1000"),
		ExchangeRate:   dec("83.50"),
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	s, err := env.recon.ProposeRate(env.ctx, core.KindPayable, item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if s.Source != "reference" || !s.Rate.Equal(dec("83.50")) {
		t.Errorf("proposed %s from %s", s.Rate, s.Source)
	}

	rate := dec("84.00")
	res, err := env.recon.Reconcile(env.ctx, core.ReconcileRequest{
		Kind: core.KindPayable, ItemID: item.ID, AmountPaid: dec("400"), Rate: &rate,
		Resolution: core.ResolutionCarryForward, SettledBy: "finance@example.com",
	})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if res.Outcome != core.OutcomeCarriedForward || res.Item == nil || !res.Item.BalanceAmount.Equal(dec("600")) {
		t.Fatalf("carry forward: %+v", res)
	}
	if res.Item.Status != core.PaymentPartial || res.Entry.FxType != core.FxLoss {
		t.Errorf("status %s fx %s", res.Item.Status, res.Entry.FxType)
	}

	// Stale version is rejected.
	stale := item.Version
	_, err = env.recon.Reconcile(env.ctx, core.ReconcileRequest{
		Kind: core.KindPayable, ItemID: item.ID, AmountPaid: dec("600"), Rate: &rate, ExpectedVersion: &stale,
	})
	if !errors.Is(err, core.ErrVersionConflict) {
		t.Errorf("expected version conflict, got %v", err)
	}

	res, err = env.recon.Reconcile(env.ctx, core.ReconcileRequest{
		Kind: core.KindPayable, ItemID: item.ID, AmountPaid: dec("600"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != core.OutcomeSettled || res.Warning == nil || res.Warning.Source != "last_payment" {
		t.Errorf("settle with fallback rate: %+v", res)
	}
	if _, err := env.items.Get(env.ctx, core.KindPayable, item.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("settled item should be gone, got %v", err)
	}
	archived, err := env.items.ListSettlements(env.ctx, core.KindPayable)
	if err != nil {
		t.Fatal(err)
	}
	if len(archived) != 1 || len(archived[0].Item.PaymentHistory) != 2 {
		t.Errorf("settlement archive: %+v", archived)
	}
}

func TestInvoiceService_IssueAndReissue(t *testing.T) {
	env := setupTestDB(t)

	o, err := env.orders.CreateOrder(env.ctx, proformaInput(42))
	if err != nil {
		t.Fatal(err)
	}
	inv, issued, err := env.invoices.Issue(env.ctx, o.ID, "finance@example.com")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if !issued || !strings.HasPrefix(inv.InvoiceNumber, "INV-") || !inv.GrandTotal.Equal(dec("105000")) {
		t.Errorf("first issue: issued=%t %s %s", issued, inv.InvoiceNumber, inv.GrandTotal)
	}

	same, issued, err := env.invoices.Issue(env.ctx, o.ID, "finance@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if issued || same.ID != inv.ID {
		t.Errorf("unchanged order should return the existing invoice")
	}

	base := decimal.NewFromInt(120000)
	if _, err := env.orders.UpdateOrder(env.ctx, o.ID, core.OrderPatch{BaseAmount: &base}); err != nil {
		t.Fatal(err)
	}
	adj, issued, err := env.invoices.Issue(env.ctx, o.ID, "finance@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if !issued || adj.Kind != core.InvoiceAdjustment || adj.SupersedesID == nil || *adj.SupersedesID != inv.ID {
		t.Errorf("adjustment: %+v", adj)
	}
	if !strings.HasPrefix(adj.InvoiceNumber, "ADJ-") || !adj.GrandTotal.Equal(dec("126000")) {
		t.Errorf("adjustment number %s total %s", adj.InvoiceNumber, adj.GrandTotal)
	}

	list, err := env.invoices.ListForOrder(env.ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Errorf("expected 2 invoices, got %d", len(list))
	}
}

func TestReportingService_Summary(t *testing.T) {
	env := setupTestDB(t)

	for i := 1; i <= 3; i++ {
		o, err := env.orders.CreateOrder(env.ctx, proformaInput(100+i))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := env.orders.Submit(env.ctx, o.ID); err != nil {
			t.Fatal(err)
		}
		if i < 3 {
			if _, err := env.orders.Approve(env.ctx, o.ID, "finance@example.com"); err != nil {
				t.Fatal(err)
			}
		}
	}

	s, err := env.reports.Summary(env.ctx, time.Time{})
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if s.TotalSales.Count != 2 || !s.TotalSales.Amount.Equal(dec("210000")) {
		t.Errorf("total sales: %d %s", s.TotalSales.Count, s.TotalSales.Amount)
	}
	if s.Receivables.Count != 2 {
		t.Errorf("approve should open a receivable each: got %d", s.Receivables.Count)
	}
	t.Logf("receivables outstanding %s", s.Receivables.Outstanding)
}

func TestOrderService_UpdateResizesReceivable(t *testing.T) {
	env := setupTestDB(t)

	o, err := env.orders.CreateOrder(env.ctx, proformaInput(610))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.orders.Submit(env.ctx, o.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.orders.Approve(env.ctx, o.ID, "finance@example.com"); err != nil {
		t.Fatal(err)
	}

	base := decimal.NewFromInt(120000)
	updated, err := env.orders.UpdateOrder(env.ctx, o.ID, core.OrderPatch{BaseAmount: &base})
	if err != nil {
		t.Fatalf("UpdateOrder failed: %v", err)
	}
	if !updated.FinalAmount.Equal(dec("126000")) {
		t.Fatalf("final after update: %s", updated.FinalAmount)
	}
	open, err := env.items.ListOpen(env.ctx, core.KindReceivable, core.OpenItemFilter{OrderID: &o.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 {
		t.Fatalf("expected one receivable, got %d", len(open))
	}
	rcv := open[0]
	if !rcv.BalanceAmount.Equal(dec("126000")) || !rcv.OriginalAmount.Equal(dec("126000")) || !rcv.Amount.Equal(dec("126000")) {
		t.Errorf("receivable after update: balance %s original %s amount %s", rcv.BalanceAmount, rcv.OriginalAmount, rcv.Amount)
	}

	// A total below what was collected is refused and changes nothing.
	partial := dec("100000")
	rate := dec("1")
	if _, err := env.recon.Reconcile(env.ctx, core.ReconcileRequest{
		Kind: core.KindReceivable, ItemID: rcv.ID, AmountPaid: partial, Rate: &rate,
		Resolution: core.ResolutionCarryForward,
	}); err != nil {
		t.Fatal(err)
	}
	low := decimal.NewFromInt(50000)
	_, err = env.orders.UpdateOrder(env.ctx, o.ID, core.OrderPatch{BaseAmount: &low})
	var ve *core.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("expected ValidationError for a total below the amount paid, got %v", err)
	}
	left, err := env.items.Get(env.ctx, core.KindReceivable, rcv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !left.BalanceAmount.Equal(dec("26000")) {
		t.Errorf("balance after refused update: %s", left.BalanceAmount)
	}
}

func TestOpenItemService_LoweredBalanceMatchesLedger(t *testing.T) {
	env := setupTestDB(t)

	item, err := env.items.Create(env.ctx, core.OpenItemInput{
		Kind:           core.KindReceivable,
		Counterparty:   "Acme Travels",
		Currency:       "INR",
		OriginalAmount: dec("1000"),
		ExchangeRate:   dec("1"),
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := env.recon.Reconcile(env.ctx, core.ReconcileRequest{
		Kind: core.KindReceivable, ItemID: item.ID, AmountPaid: dec("400"), Resolution: core.ResolutionCarryForward,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Item.BalanceAmount.Equal(dec("600")) {
		t.Fatalf("balance after carry forward: %s", res.Item.BalanceAmount)
	}

	bal := dec("500")
	updated, err := env.items.Update(env.ctx, core.KindReceivable, item.ID, core.OpenItemPatch{BalanceAmount: &bal})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if !updated.BalanceAmount.Equal(dec("500")) || !updated.OriginalAmount.Equal(dec("900")) || !updated.Amount.Equal(dec("500")) {
		t.Errorf("after update: balance %s original %s amount %s", updated.BalanceAmount, updated.OriginalAmount, updated.Amount)
	}
	if len(updated.PaymentHistory) != 1 {
		t.Errorf("balance change should not add a payment, history has %d entries", len(updated.PaymentHistory))
	}
	s := core.Summarize(updated.Snapshot(), updated.PaymentHistory)
	if !s.Remaining.Equal(updated.BalanceAmount) {
		t.Errorf("ledger remaining %s, balance %s", s.Remaining, updated.BalanceAmount)
	}
}

func approvedOrder(t *testing.T, env *testEnv, leadID int) (*core.Order, core.OpenItem) {
	t.Helper()
	o, err := env.orders.CreateOrder(env.ctx, proformaInput(leadID))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.orders.Submit(env.ctx, o.ID); err != nil {
		t.Fatal(err)
	}
	if o, err = env.orders.Approve(env.ctx, o.ID, "finance@example.com"); err != nil {
		t.Fatal(err)
	}
	open, err := env.items.ListOpen(env.ctx, core.KindReceivable, core.OpenItemFilter{OrderID: &o.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 || !open[0].BalanceAmount.Equal(dec("105000")) {
		t.Fatalf("expected one receivable of 105000, got %+v", open)
	}
	return o, open[0]
}

func TestReconciler_WriteOffAdjustsStoredOrder(t *testing.T) {
	env := setupTestDB(t)
	o, rcv := approvedOrder(t, env, 620)

	res, err := env.recon.Reconcile(env.ctx, core.ReconcileRequest{
		Kind: core.KindReceivable, ItemID: rcv.ID, AmountPaid: dec("99750"),
		Resolution: core.ResolutionWriteOff, Reason: "Client disputed hotel upgrade",
		SettledBy: "finance@example.com",
	})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if res.Outcome != core.OutcomeWrittenOff || !res.Closed || res.Adjustment == nil {
		t.Fatalf("write-off result: %+v", res)
	}

	stored, err := env.orders.GetOrder(env.ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.TotalAmount.Equal(dec("99750")) || !stored.AmountAdjusted {
		t.Errorf("total %s adjusted %t", stored.TotalAmount, stored.AmountAdjusted)
	}
	if stored.OriginalAmount == nil || !stored.OriginalAmount.Equal(dec("105000")) {
		t.Errorf("original amount: %v", stored.OriginalAmount)
	}
	if stored.AdjustmentReason != "Client disputed hotel upgrade" {
		t.Errorf("adjustment reason %q", stored.AdjustmentReason)
	}
	if !stored.BaseAmount.Equal(dec("95000")) || !stored.FinalAmount.Equal(stored.BaseAmount.Add(stored.TotalTax)) {
		t.Errorf("base %s tax %s final %s", stored.BaseAmount, stored.TotalTax, stored.FinalAmount)
	}
	if stored.PaymentStatus != core.PaymentPaid || !stored.AmountPaid.Equal(dec("99750")) {
		t.Errorf("payment: %s paid %s", stored.PaymentStatus, stored.AmountPaid)
	}
	archived, err := env.items.ListSettlements(env.ctx, core.KindReceivable)
	if err != nil {
		t.Fatal(err)
	}
	if len(archived) != 1 || archived[0].Outcome != core.OutcomeWrittenOff {
		t.Errorf("settlement archive: %+v", archived)
	}
}

func TestReconciler_WriteOffRollsBackWhenOrderSaveFails(t *testing.T) {
	env := setupTestDB(t)
	o, rcv := approvedOrder(t, env, 621)

	// Make every adjusted order row fail to save.
	if _, err := env.pool.Exec(env.ctx,
		"ALTER TABLE orders ADD CONSTRAINT block_adjustments CHECK (NOT amount_adjusted) NOT VALID"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_, _ = env.pool.Exec(context.Background(), "ALTER TABLE orders DROP CONSTRAINT IF EXISTS block_adjustments")
	})

	_, err := env.recon.Reconcile(env.ctx, core.ReconcileRequest{
		Kind: core.KindReceivable, ItemID: rcv.ID, AmountPaid: dec("99750"),
		Resolution: core.ResolutionWriteOff, Reason: "Client disputed hotel upgrade",
	})
	if err == nil {
		t.Fatal("write-off should fail when the order cannot be saved")
	}

	item, err := env.items.Get(env.ctx, core.KindReceivable, rcv.ID)
	if err != nil {
		t.Fatalf("receivable should survive the failed write-off: %v", err)
	}
	if !item.BalanceAmount.Equal(dec("105000")) || len(item.PaymentHistory) != 0 || item.Version != rcv.Version {
		t.Errorf("receivable changed: balance %s history %d version %d", item.BalanceAmount, len(item.PaymentHistory), item.Version)
	}
	var settlements int
	if err := env.pool.QueryRow(env.ctx, "SELECT COUNT(*) FROM settlements").Scan(&settlements); err != nil {
		t.Fatal(err)
	}
	if settlements != 0 {
		t.Errorf("failed write-off archived %d settlements", settlements)
	}
	stored, err := env.orders.GetOrder(env.ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.AmountAdjusted || !stored.TotalAmount.Equal(dec("105000")) || !stored.AmountPaid.IsZero() {
		t.Errorf("order changed: adjusted %t total %s paid %s", stored.AmountAdjusted, stored.TotalAmount, stored.AmountPaid)
	}
}
