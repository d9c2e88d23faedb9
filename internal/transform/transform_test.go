package transform

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kimhsiao/ledgerlink/internal/errors"
	"github.com/kimhsiao/ledgerlink/internal/models"
)

func marshalMap(t *testing.T, v interface{}) map[string]interface{} {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func record(t *testing.T, localType, id string, v interface{}) *models.LocalRecord {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return &models.LocalRecord{TenantID: "t-1", Type: localType, ID: id, Data: raw}
}

func TestVendorCreateOmitsAbsentFields(t *testing.T) {
	v, err := VendorCreate(&models.Subcontractor{ID: "sub-1", CompanyName: "ABC Co"})
	require.NoError(t, err)

	got := marshalMap(t, v)
	assert.Equal(t, map[string]interface{}{
		"DisplayName": "ABC Co",
		"CompanyName": "ABC Co",
	}, got)
}

func TestVendorCreateFullRecord(t *testing.T) {
	yes := true
	v, err := VendorCreate(&models.Subcontractor{
		ID:          "sub-1",
		CompanyName: "ABC Co",
		ContactName: "Ann Builder",
		Email:       "ap@abc.example",
		Phone:       "555-0100",
		TaxID:       "12-3456789",
		Is1099:      &yes,
		Address:     &models.Address{Line1: "1 Main St", City: "Springfield", State: "IL", PostalCode: "62701"},
	})
	require.NoError(t, err)

	got := marshalMap(t, v)
	assert.Equal(t, true, got["Vendor1099"])
	assert.Equal(t, "Ann Builder", got["PrintOnCheckName"])
	assert.Equal(t, map[string]interface{}{"Address": "ap@abc.example"}, got["PrimaryEmailAddr"])
	assert.Equal(t, map[string]interface{}{
		"Line1": "1 Main St", "City": "Springfield", "CountrySubDivisionCode": "IL", "PostalCode": "62701",
	}, got["BillAddr"])
	assert.NotContains(t, got, "Id")
	assert.NotContains(t, got, "sparse")
}

func TestVendorUpdateCarriesVersionToken(t *testing.T) {
	v, err := VendorUpdate(&models.Subcontractor{ID: "sub-1", CompanyName: "ABC Co"}, Target{RemoteID: "V-1", VersionToken: "0"})
	require.NoError(t, err)

	got := marshalMap(t, v)
	assert.Equal(t, "V-1", got["Id"])
	assert.Equal(t, "0", got["SyncToken"])
	assert.Equal(t, true, got["sparse"])
}

func TestUpdateWithoutVersionTokenIsConflict(t *testing.T) {
	_, err := VendorUpdate(&models.Subcontractor{ID: "sub-1", CompanyName: "ABC Co"}, Target{RemoteID: "V-1"})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrSyncConflict))
}

func TestRequiredFields(t *testing.T) {
	refs := Refs{
		{LocalType: models.LocalTypeProject, LocalID: "p-1"}:       "C-1",
		{LocalType: models.LocalTypeSubcontractor, LocalID: "s-1"}: "V-1",
	}
	line := []models.LineItem{{Amount: 100, AccountRef: "7"}}

	cases := []struct {
		name string
		run  func() error
	}{
		{"vendor without name", func() error { _, err := VendorCreate(&models.Subcontractor{ID: "s"}); return err }},
		{"customer without name", func() error { _, err := CustomerCreate(&models.Project{ID: "p"}); return err }},
		{"invoice without project", func() error {
			_, err := InvoiceCreate(&models.PaymentApplication{ID: "pa", Lines: line}, refs)
			return err
		}},
		{"invoice without lines", func() error {
			_, err := InvoiceCreate(&models.PaymentApplication{ID: "pa", ProjectID: "p-1"}, refs)
			return err
		}},
		{"invoice with bad date", func() error {
			_, err := InvoiceCreate(&models.PaymentApplication{ID: "pa", ProjectID: "p-1", PeriodTo: "03/31/2024", Lines: line}, refs)
			return err
		}},
		{"invoice with unsynced project", func() error {
			_, err := InvoiceCreate(&models.PaymentApplication{ID: "pa", ProjectID: "p-2", Lines: line}, refs)
			return err
		}},
		{"bill line without account", func() error {
			_, err := BillCreate(&models.ChangeOrder{ID: "co", SubcontractorID: "s-1", Lines: []models.LineItem{{Amount: 5}}}, refs)
			return err
		}},
		{"bill line without amount", func() error {
			_, err := BillCreate(&models.ChangeOrder{ID: "co", SubcontractorID: "s-1", Lines: []models.LineItem{{AccountRef: "7"}}}, refs)
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.run()
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.ErrValidation), "got %v", err)
		})
	}
}

func TestInvoiceLinesAndRetainage(t *testing.T) {
	rate := 0.1
	inv, err := InvoiceCreate(&models.PaymentApplication{
		ID:            "pa-1",
		ProjectID:     "p-1",
		Number:        "PA-7",
		PeriodTo:      "2024-03-31",
		RetainageRate: &rate,
		Lines: []models.LineItem{
			{Description: "Framing", Amount: 1000},
			{Description: "Drywall", Quantity: 4, UnitPrice: 125.5},
		},
	}, Refs{{LocalType: models.LocalTypeProject, LocalID: "p-1"}: "C-9"})
	require.NoError(t, err)

	assert.Equal(t, Ref{Value: "C-9"}, inv.CustomerRef)
	assert.Equal(t, "2024-03-31", inv.TxnDate)
	require.Len(t, inv.Line, 3)
	assert.Equal(t, 502.0, inv.Line[1].Amount)
	assert.Equal(t, -150.2, inv.Line[2].Amount)
	assert.Equal(t, "Retainage 10%", inv.Line[2].Description)

	got := marshalMap(t, inv)
	assert.NotContains(t, got, "DueDate")
	assert.NotContains(t, got, "PrivateNote")
}

func TestBillReferencesVendorAndProject(t *testing.T) {
	b, err := BillCreate(&models.ChangeOrder{
		ID:              "co-1",
		SubcontractorID: "s-1",
		ProjectID:       "p-1",
		Lines:           []models.LineItem{{Description: "Extra outlets", Amount: 240, AccountRef: "63"}},
	}, Refs{
		{LocalType: models.LocalTypeSubcontractor, LocalID: "s-1"}: "V-1",
		{LocalType: models.LocalTypeProject, LocalID: "p-1"}:       "C-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "V-1", b.VendorRef.Value)
	detail := b.Line[0].AccountBasedExpenseLineDetail
	require.NotNil(t, detail)
	assert.Equal(t, "63", detail.AccountRef.Value)
	assert.Equal(t, "C-1", detail.CustomerRef.Value)
	assert.Equal(t, "AccountBasedExpenseLineDetail", b.Line[0].DetailType)
}

func TestDependencies(t *testing.T) {
	deps, err := Dependencies(record(t, models.LocalTypeChangeOrder, "co-1", models.ChangeOrder{SubcontractorID: "s-1", ProjectID: "p-1"}))
	require.NoError(t, err)
	assert.Equal(t, []Dependency{
		{LocalType: models.LocalTypeSubcontractor, LocalID: "s-1"},
		{LocalType: models.LocalTypeProject, LocalID: "p-1"},
	}, deps)

	deps, err = Dependencies(record(t, models.LocalTypePaymentApplication, "pa-1", models.PaymentApplication{ProjectID: "p-1"}))
	require.NoError(t, err)
	assert.Equal(t, []Dependency{{LocalType: models.LocalTypeProject, LocalID: "p-1"}}, deps)

	deps, err = Dependencies(record(t, models.LocalTypeSubcontractor, "s-1", models.Subcontractor{CompanyName: "x"}))
	require.NoError(t, err)
	assert.Empty(t, deps)

	_, err = Dependencies(&models.LocalRecord{Type: "timesheet"})
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))
}

func TestBuildDispatches(t *testing.T) {
	rec := record(t, models.LocalTypeSubcontractor, "sub-1", models.Subcontractor{CompanyName: "ABC Co"})

	p, err := Build(rec, Target{}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.RemoteTypeVendor, p.RemoteType)
	assert.False(t, p.Update)
	assert.Equal(t, "ABC Co", p.Body.(*Vendor).DisplayName)

	p, err = Build(rec, Target{RemoteID: "V-1", VersionToken: "3"}, nil)
	require.NoError(t, err)
	assert.True(t, p.Update)
	assert.Equal(t, "3", p.Body.(*Vendor).SyncToken)

	proj := record(t, models.LocalTypeProject, "p-1", models.Project{Name: "Lakeside", Number: "24-001"})
	p, err = Build(proj, Target{}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.RemoteTypeCustomer, p.RemoteType)
	assert.Equal(t, "Lakeside (24-001)", p.Body.(*Customer).DisplayName)
}

func TestBuildMalformedRecord(t *testing.T) {
	_, err := Build(&models.LocalRecord{Type: models.LocalTypeProject, ID: "p-1", Data: []byte(`{"name":`)}, Target{}, nil)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	_, err = Build(&models.LocalRecord{Type: models.LocalTypeProject, ID: "p-1"}, Target{}, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}
