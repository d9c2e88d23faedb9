package models

import "encoding/json"

// Local business-object types the core can sync.
const (
	LocalTypeSubcontractor      = "subcontractor"
	LocalTypePaymentApplication = "payment_application"
	LocalTypeChangeOrder        = "change_order"
	LocalTypeProject            = "project"

	// EntityTypeAll selects every supported type in a bulk request.
	EntityTypeAll = "all"
)

// Remote entity types of the accounting API.
const (
	RemoteTypeVendor   = "vendor"
	RemoteTypeInvoice  = "invoice"
	RemoteTypeBill     = "bill"
	RemoteTypeCustomer = "customer"
)

var remoteTypes = map[string]string{
	LocalTypeSubcontractor:      RemoteTypeVendor,
	LocalTypePaymentApplication: RemoteTypeInvoice,
	LocalTypeChangeOrder:        RemoteTypeBill,
	LocalTypeProject:            RemoteTypeCustomer,
}

// SupportedLocalTypes returns the supported local types in dependency order:
// referenced records (projects, subcontractors) come before records that point at them.
func SupportedLocalTypes() []string {
	return []string{
		LocalTypeProject,
		LocalTypeSubcontractor,
		LocalTypePaymentApplication,
		LocalTypeChangeOrder,
	}
}

// IsSupportedLocalType reports whether t can be synced.
func IsSupportedLocalType(t string) bool {
	_, ok := remoteTypes[t]
	return ok
}

// RemoteTypeFor returns the remote entity type a local type maps to.
func RemoteTypeFor(localType string) (string, bool) {
	rt, ok := remoteTypes[localType]
	return rt, ok
}

// LocalRecord is an opaque business object as handed over by the record source.
type LocalRecord struct {
	TenantID  string          `db:"tenant_id" json:"tenant_id"`
	Type      string          `db:"local_type" json:"type"`
	ID        string          `db:"local_id" json:"id"`
	Data      json.RawMessage `db:"data" json:"data"`
	UpdatedAt int64           `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for LocalRecord.
func (LocalRecord) TableName() string {
	return "local_records"
}

// Address is a postal address shared by several business objects.
type Address struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// IsZero reports whether no address field is set.
func (a *Address) IsZero() bool {
	return a == nil || *a == Address{}
}

// Subcontractor is synced as a vendor.
type Subcontractor struct {
	ID            string   `json:"id"`
	CompanyName   string   `json:"company_name"`
	ContactName   string   `json:"contact_name,omitempty"`
	Email         string   `json:"email,omitempty"`
	Phone         string   `json:"phone,omitempty"`
	TaxID         string   `json:"tax_id,omitempty"`
	Is1099        *bool    `json:"is_1099,omitempty"`
	Address       *Address `json:"address,omitempty"`
	AccountNumber string   `json:"account_number,omitempty"`
}

// Project is synced as a customer (job).
type Project struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Number      string   `json:"number,omitempty"`
	ClientName  string   `json:"client_name,omitempty"`
	ClientEmail string   `json:"client_email,omitempty"`
	ClientPhone string   `json:"client_phone,omitempty"`
	Address     *Address `json:"address,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

// LineItem is a priced line on an invoice or bill.
type LineItem struct {
	Description string  `json:"description,omitempty"`
	Amount      float64 `json:"amount"`
	Quantity    float64 `json:"quantity,omitempty"`
	UnitPrice   float64 `json:"unit_price,omitempty"`
	ItemRef     string  `json:"item_ref,omitempty"`
	AccountRef  string  `json:"account_ref,omitempty"`
}

// PaymentApplication is a progress billing synced as an invoice.
type PaymentApplication struct {
	ID            string     `json:"id"`
	ProjectID     string     `json:"project_id"`
	Number        string     `json:"number,omitempty"`
	PeriodTo      string     `json:"period_to,omitempty"` // YYYY-MM-DD
	DueDate       string     `json:"due_date,omitempty"`  // YYYY-MM-DD
	RetainageRate *float64   `json:"retainage_rate,omitempty"`
	Memo          string     `json:"memo,omitempty"`
	Lines         []LineItem `json:"lines"`
}

// ChangeOrder is a subcontractor change order synced as a bill.
type ChangeOrder struct {
	ID              string     `json:"id"`
	SubcontractorID string     `json:"subcontractor_id"`
	ProjectID       string     `json:"project_id,omitempty"`
	Number          string     `json:"number,omitempty"`
	ApprovedDate    string     `json:"approved_date,omitempty"` // YYYY-MM-DD
	DueDate         string     `json:"due_date,omitempty"`
	Memo            string     `json:"memo,omitempty"`
	Lines           []LineItem `json:"lines"`
}
