// Package transform maps local business objects to the accounting API's
// payload shapes. Every function here is pure: no network, no storage.
package transform

// Ref points at another remote entity by id.
type Ref struct {
	Value string `json:"value"`
	Name  string `json:"name,omitempty"`
}

// PhysicalAddress is the remote address shape.
type PhysicalAddress struct {
	Line1                  string `json:"Line1,omitempty"`
	Line2                  string `json:"Line2,omitempty"`
	City                   string `json:"City,omitempty"`
	CountrySubDivisionCode string `json:"CountrySubDivisionCode,omitempty"`
	PostalCode             string `json:"PostalCode,omitempty"`
	Country                string `json:"Country,omitempty"`
}

// EmailAddress wraps an email.
type EmailAddress struct {
	Address string `json:"Address"`
}

// TelephoneNumber wraps a phone number.
type TelephoneNumber struct {
	FreeFormNumber string `json:"FreeFormNumber"`
}

// Header carries the fields an update adds to a create payload.
// A create leaves all three empty so they are omitted.
type Header struct {
	ID        string `json:"Id,omitempty"`
	SyncToken string `json:"SyncToken,omitempty"`
	Sparse    bool   `json:"sparse,omitempty"`
}

// Vendor is the remote counterpart of a subcontractor.
type Vendor struct {
	Header
	DisplayName      string           `json:"DisplayName"`
	CompanyName      string           `json:"CompanyName,omitempty"`
	PrintOnCheckName string           `json:"PrintOnCheckName,omitempty"`
	PrimaryEmailAddr *EmailAddress    `json:"PrimaryEmailAddr,omitempty"`
	PrimaryPhone     *TelephoneNumber `json:"PrimaryPhone,omitempty"`
	TaxIdentifier    string           `json:"TaxIdentifier,omitempty"`
	Vendor1099       *bool            `json:"Vendor1099,omitempty"`
	BillAddr         *PhysicalAddress `json:"BillAddr,omitempty"`
	AcctNum          string           `json:"AcctNum,omitempty"`
}

// Customer is the remote counterpart of a project.
type Customer struct {
	Header
	DisplayName      string           `json:"DisplayName"`
	CompanyName      string           `json:"CompanyName,omitempty"`
	PrimaryEmailAddr *EmailAddress    `json:"PrimaryEmailAddr,omitempty"`
	PrimaryPhone     *TelephoneNumber `json:"PrimaryPhone,omitempty"`
	BillAddr         *PhysicalAddress `json:"BillAddr,omitempty"`
	ShipAddr         *PhysicalAddress `json:"ShipAddr,omitempty"`
	Notes            string           `json:"Notes,omitempty"`
}

// SalesItemLineDetail is the detail of an invoice line.
type SalesItemLineDetail struct {
	ItemRef   *Ref     `json:"ItemRef,omitempty"`
	Qty       *float64 `json:"Qty,omitempty"`
	UnitPrice *float64 `json:"UnitPrice,omitempty"`
}

// AccountBasedExpenseLineDetail is the detail of a bill line.
type AccountBasedExpenseLineDetail struct {
	AccountRef  *Ref `json:"AccountRef,omitempty"`
	CustomerRef *Ref `json:"CustomerRef,omitempty"`
}

// Line is a priced transaction line.
type Line struct {
	Description                   string                         `json:"Description,omitempty"`
	Amount                        float64                        `json:"Amount"`
	DetailType                    string                         `json:"DetailType"`
	SalesItemLineDetail           *SalesItemLineDetail           `json:"SalesItemLineDetail,omitempty"`
	AccountBasedExpenseLineDetail *AccountBasedExpenseLineDetail `json:"AccountBasedExpenseLineDetail,omitempty"`
}

const (
	detailSalesItem      = "SalesItemLineDetail"
	detailAccountExpense = "AccountBasedExpenseLineDetail"
)

// Invoice is the remote counterpart of a payment application.
type Invoice struct {
	Header
	CustomerRef Ref    `json:"CustomerRef"`
	DocNumber   string `json:"DocNumber,omitempty"`
	TxnDate     string `json:"TxnDate,omitempty"`
	DueDate     string `json:"DueDate,omitempty"`
	PrivateNote string `json:"PrivateNote,omitempty"`
	Line        []Line `json:"Line"`
}

// Bill is the remote counterpart of a change order.
type Bill struct {
	Header
	VendorRef   Ref    `json:"VendorRef"`
	DocNumber   string `json:"DocNumber,omitempty"`
	TxnDate     string `json:"TxnDate,omitempty"`
	DueDate     string `json:"DueDate,omitempty"`
	PrivateNote string `json:"PrivateNote,omitempty"`
	Line        []Line `json:"Line"`
}
