package transform

import (
	"fmt"
	"math"
	"time"

	"github.com/goccy/go-json"

	apperrors "github.com/kimhsiao/ledgerlink/internal/errors"
	"github.com/kimhsiao/ledgerlink/internal/models"
)

const dateLayout = "2006-01-02"

// Dependency names a local record whose remote id a payload references.
type Dependency struct {
	LocalType string
	LocalID   string
}

func (d Dependency) String() string {
	return d.LocalType + "/" + d.LocalID
}

// Refs holds the remote ids of resolved dependencies.
type Refs map[Dependency]string

func (r Refs) ref(localType, localID string) (Ref, error) {
	d := Dependency{LocalType: localType, LocalID: localID}
	id := r[d]
	if id == "" {
		return Ref{}, apperrors.Newf(apperrors.ErrValidation, "%s has not been synced yet", d)
	}
	return Ref{Value: id}, nil
}

// Target identifies the remote record an update is aimed at. A zero
// Target means create.
type Target struct {
	RemoteID     string
	VersionToken string
}

// IsUpdate reports whether the target names an existing remote record.
func (t Target) IsUpdate() bool {
	return t.RemoteID != ""
}

// Payload is a built request body and what it is for.
type Payload struct {
	RemoteType string
	Update     bool
	Body       interface{}
}

func invalid(format string, args ...interface{}) error {
	return apperrors.Newf(apperrors.ErrValidation, format, args...)
}

func updateHeader(t Target) (Header, error) {
	if t.RemoteID == "" {
		return Header{}, invalid("update requires a remote id")
	}
	if t.VersionToken == "" {
		return Header{}, apperrors.Newf(apperrors.ErrSyncConflict,
			"no version token stored for remote record %s, refetch it before updating", t.RemoteID)
	}
	return Header{ID: t.RemoteID, SyncToken: t.VersionToken, Sparse: true}, nil
}

func checkDate(field, value string) error {
	if value == "" {
		return nil
	}
	if _, err := time.Parse(dateLayout, value); err != nil {
		return invalid("%s must be YYYY-MM-DD, got %q", field, value)
	}
	return nil
}

func address(a *models.Address) *PhysicalAddress {
	if a.IsZero() {
		return nil
	}
	return &PhysicalAddress{
		Line1:                  a.Line1,
		Line2:                  a.Line2,
		City:                   a.City,
		CountrySubDivisionCode: a.State,
		PostalCode:             a.PostalCode,
		Country:                a.Country,
	}
}

func email(s string) *EmailAddress {
	if s == "" {
		return nil
	}
	return &EmailAddress{Address: s}
}

func phone(s string) *TelephoneNumber {
	if s == "" {
		return nil
	}
	return &TelephoneNumber{FreeFormNumber: s}
}

func optFloat(v float64) *float64 {
	if v == 0 {
		return nil
	}
	return &v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// lineAmount uses the explicit amount, falling back to quantity × unit price.
func lineAmount(i int, l models.LineItem) (float64, error) {
	amount := l.Amount
	if amount == 0 && l.Quantity != 0 && l.UnitPrice != 0 {
		amount = round2(l.Quantity * l.UnitPrice)
	}
	if amount == 0 {
		return 0, invalid("line %d: amount is required", i+1)
	}
	return amount, nil
}

// =====================================================
// Subcontractor → Vendor
// =====================================================

func vendor(s *models.Subcontractor) (*Vendor, error) {
	if s.CompanyName == "" {
		return nil, invalid("subcontractor %s: company_name is required", s.ID)
	}
	return &Vendor{
		DisplayName:      s.CompanyName,
		CompanyName:      s.CompanyName,
		PrintOnCheckName: s.ContactName,
		PrimaryEmailAddr: email(s.Email),
		PrimaryPhone:     phone(s.Phone),
		TaxIdentifier:    s.TaxID,
		Vendor1099:       s.Is1099,
		BillAddr:         address(s.Address),
		AcctNum:          s.AccountNumber,
	}, nil
}

// VendorCreate builds the create payload for a subcontractor.
func VendorCreate(s *models.Subcontractor) (*Vendor, error) {
	return vendor(s)
}

// VendorUpdate builds a sparse update payload for a subcontractor.
func VendorUpdate(s *models.Subcontractor, t Target) (*Vendor, error) {
	h, err := updateHeader(t)
	if err != nil {
		return nil, err
	}
	v, err := vendor(s)
	if err != nil {
		return nil, err
	}
	v.Header = h
	return v, nil
}

// =====================================================
// Project → Customer
// =====================================================

func customer(p *models.Project) (*Customer, error) {
	if p.Name == "" {
		return nil, invalid("project %s: name is required", p.ID)
	}
	display := p.Name
	if p.Number != "" {
		display = fmt.Sprintf("%s (%s)", p.Name, p.Number)
	}
	addr := address(p.Address)
	return &Customer{
		DisplayName:      display,
		CompanyName:      p.ClientName,
		PrimaryEmailAddr: email(p.ClientEmail),
		PrimaryPhone:     phone(p.ClientPhone),
		BillAddr:         addr,
		ShipAddr:         addr,
		Notes:            plainMemo(p.Notes, customerNotesLimit),
	}, nil
}

// CustomerCreate builds the create payload for a project.
func CustomerCreate(p *models.Project) (*Customer, error) {
	return customer(p)
}

// CustomerUpdate builds a sparse update payload for a project.
func CustomerUpdate(p *models.Project, t Target) (*Customer, error) {
	h, err := updateHeader(t)
	if err != nil {
		return nil, err
	}
	c, err := customer(p)
	if err != nil {
		return nil, err
	}
	c.Header = h
	return c, nil
}

// =====================================================
// PaymentApplication → Invoice
// =====================================================

func invoice(pa *models.PaymentApplication, refs Refs) (*Invoice, error) {
	if pa.ProjectID == "" {
		return nil, invalid("payment application %s: project_id is required", pa.ID)
	}
	if len(pa.Lines) == 0 {
		return nil, invalid("payment application %s: at least one line is required", pa.ID)
	}
	if err := checkDate("period_to", pa.PeriodTo); err != nil {
		return nil, err
	}
	if err := checkDate("due_date", pa.DueDate); err != nil {
		return nil, err
	}
	customerRef, err := refs.ref(models.LocalTypeProject, pa.ProjectID)
	if err != nil {
		return nil, err
	}

	lines := make([]Line, 0, len(pa.Lines)+1)
	var total float64
	for i, l := range pa.Lines {
		amount, err := lineAmount(i, l)
		if err != nil {
			return nil, err
		}
		total += amount
		detail := &SalesItemLineDetail{Qty: optFloat(l.Quantity), UnitPrice: optFloat(l.UnitPrice)}
		if l.ItemRef != "" {
			detail.ItemRef = &Ref{Value: l.ItemRef}
		}
		lines = append(lines, Line{
			Description:         l.Description,
			Amount:              amount,
			DetailType:          detailSalesItem,
			SalesItemLineDetail: detail,
		})
	}

	if pa.RetainageRate != nil && *pa.RetainageRate != 0 {
		rate := *pa.RetainageRate
		if rate < 0 || rate >= 1 {
			return nil, invalid("payment application %s: retainage_rate must be in [0, 1)", pa.ID)
		}
		lines = append(lines, Line{
			Description:         fmt.Sprintf("Retainage %g%%", round2(rate*100)),
			Amount:              -round2(total * rate),
			DetailType:          detailSalesItem,
			SalesItemLineDetail: &SalesItemLineDetail{},
		})
	}

	return &Invoice{
		CustomerRef: customerRef,
		DocNumber:   pa.Number,
		TxnDate:     pa.PeriodTo,
		DueDate:     pa.DueDate,
		PrivateNote: plainMemo(pa.Memo, privateNoteLimit),
		Line:        lines,
	}, nil
}

// InvoiceCreate builds the create payload for a payment application.
func InvoiceCreate(pa *models.PaymentApplication, refs Refs) (*Invoice, error) {
	return invoice(pa, refs)
}

// InvoiceUpdate builds a sparse update payload for a payment application.
func InvoiceUpdate(pa *models.PaymentApplication, refs Refs, t Target) (*Invoice, error) {
	h, err := updateHeader(t)
	if err != nil {
		return nil, err
	}
	inv, err := invoice(pa, refs)
	if err != nil {
		return nil, err
	}
	inv.Header = h
	return inv, nil
}

// =====================================================
// ChangeOrder → Bill
// =====================================================

func bill(co *models.ChangeOrder, refs Refs) (*Bill, error) {
	if co.SubcontractorID == "" {
		return nil, invalid("change order %s: subcontractor_id is required", co.ID)
	}
	if len(co.Lines) == 0 {
		return nil, invalid("change order %s: at least one line is required", co.ID)
	}
	if err := checkDate("approved_date", co.ApprovedDate); err != nil {
		return nil, err
	}
	if err := checkDate("due_date", co.DueDate); err != nil {
		return nil, err
	}
	vendorRef, err := refs.ref(models.LocalTypeSubcontractor, co.SubcontractorID)
	if err != nil {
		return nil, err
	}
	var customerRef *Ref
	if co.ProjectID != "" {
		r, err := refs.ref(models.LocalTypeProject, co.ProjectID)
		if err != nil {
			return nil, err
		}
		customerRef = &r
	}

	lines := make([]Line, 0, len(co.Lines))
	for i, l := range co.Lines {
		amount, err := lineAmount(i, l)
		if err != nil {
			return nil, err
		}
		if l.AccountRef == "" {
			return nil, invalid("change order %s: line %d: account_ref is required", co.ID, i+1)
		}
		lines = append(lines, Line{
			Description: l.Description,
			Amount:      amount,
			DetailType:  detailAccountExpense,
			AccountBasedExpenseLineDetail: &AccountBasedExpenseLineDetail{
				AccountRef:  &Ref{Value: l.AccountRef},
				CustomerRef: customerRef,
			},
		})
	}

	return &Bill{
		VendorRef:   vendorRef,
		DocNumber:   co.Number,
		TxnDate:     co.ApprovedDate,
		DueDate:     co.DueDate,
		PrivateNote: plainMemo(co.Memo, privateNoteLimit),
		Line:        lines,
	}, nil
}

// BillCreate builds the create payload for a change order.
func BillCreate(co *models.ChangeOrder, refs Refs) (*Bill, error) {
	return bill(co, refs)
}

// BillUpdate builds a sparse update payload for a change order.
func BillUpdate(co *models.ChangeOrder, refs Refs, t Target) (*Bill, error) {
	h, err := updateHeader(t)
	if err != nil {
		return nil, err
	}
	b, err := bill(co, refs)
	if err != nil {
		return nil, err
	}
	b.Header = h
	return b, nil
}

// =====================================================
// LocalRecord dispatch
// =====================================================

func decode(rec *models.LocalRecord, into interface{}) error {
	if len(rec.Data) == 0 {
		return invalid("%s %s: record has no data", rec.Type, rec.ID)
	}
	if err := json.Unmarshal(rec.Data, into); err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, fmt.Sprintf("%s %s: malformed record", rec.Type, rec.ID), err)
	}
	return nil
}

// Dependencies lists the records whose remote ids the payload for rec
// references. They must be synced first.
func Dependencies(rec *models.LocalRecord) ([]Dependency, error) {
	switch rec.Type {
	case models.LocalTypePaymentApplication:
		var pa models.PaymentApplication
		if err := decode(rec, &pa); err != nil {
			return nil, err
		}
		if pa.ProjectID == "" {
			return nil, nil
		}
		return []Dependency{{LocalType: models.LocalTypeProject, LocalID: pa.ProjectID}}, nil
	case models.LocalTypeChangeOrder:
		var co models.ChangeOrder
		if err := decode(rec, &co); err != nil {
			return nil, err
		}
		var deps []Dependency
		if co.SubcontractorID != "" {
			deps = append(deps, Dependency{LocalType: models.LocalTypeSubcontractor, LocalID: co.SubcontractorID})
		}
		if co.ProjectID != "" {
			deps = append(deps, Dependency{LocalType: models.LocalTypeProject, LocalID: co.ProjectID})
		}
		return deps, nil
	case models.LocalTypeSubcontractor, models.LocalTypeProject:
		return nil, nil
	default:
		return nil, apperrors.Newf(apperrors.ErrInvalid, "unsupported local type %q", rec.Type)
	}
}

// Build decodes rec and builds its create payload, or its update payload
// when t names an existing remote record.
func Build(rec *models.LocalRecord, t Target, refs Refs) (*Payload, error) {
	remoteType, ok := models.RemoteTypeFor(rec.Type)
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrInvalid, "unsupported local type %q", rec.Type)
	}

	var (
		body interface{}
		err  error
	)
	switch rec.Type {
	case models.LocalTypeSubcontractor:
		var s models.Subcontractor
		if err = decode(rec, &s); err != nil {
			return nil, err
		}
		s.ID = rec.ID
		if t.IsUpdate() {
			body, err = VendorUpdate(&s, t)
		} else {
			body, err = VendorCreate(&s)
		}
	case models.LocalTypeProject:
		var p models.Project
		if err = decode(rec, &p); err != nil {
			return nil, err
		}
		p.ID = rec.ID
		if t.IsUpdate() {
			body, err = CustomerUpdate(&p, t)
		} else {
			body, err = CustomerCreate(&p)
		}
	case models.LocalTypePaymentApplication:
		var pa models.PaymentApplication
		if err = decode(rec, &pa); err != nil {
			return nil, err
		}
		pa.ID = rec.ID
		if t.IsUpdate() {
			body, err = InvoiceUpdate(&pa, refs, t)
		} else {
			body, err = InvoiceCreate(&pa, refs)
		}
	case models.LocalTypeChangeOrder:
		var co models.ChangeOrder
		if err = decode(rec, &co); err != nil {
			return nil, err
		}
		co.ID = rec.ID
		if t.IsUpdate() {
			body, err = BillUpdate(&co, refs, t)
		} else {
			body, err = BillCreate(&co, refs)
		}
	}
	if err != nil {
		return nil, err
	}
	return &Payload{RemoteType: remoteType, Update: t.IsUpdate(), Body: body}, nil
}
