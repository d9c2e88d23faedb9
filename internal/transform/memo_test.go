package transform

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/ledgerlink/internal/models"
)

func TestPlainMemo(t *testing.T) {
	tests := []struct {
		name     string
		markdown string
		want     string
	}{
		{"empty", "   ", ""},
		{"plain", "Net 30", "Net 30"},
		{"emphasis", "Retainage **held** per _contract_.", "Retainage held per contract."},
		{"heading and list", "# Scope\n\n- framing\n- drywall", "Scope\n- framing\n- drywall"},
		{"soft break", "line one\nline two", "line one\nline two"},
		{"code span", "see `CO-12`", "see CO-12"},
		{"link", "[drawings](https://example.test/d.pdf)", "drawings"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, plainMemo(tt.markdown, privateNoteLimit))
		})
	}
}

func TestPlainMemoLimit(t *testing.T) {
	got := plainMemo(strings.Repeat("é", 10), 4)
	assert.Equal(t, "éééé", got)
}

func TestCustomerNotesAreFlattened(t *testing.T) {
	proj := record(t, models.LocalTypeProject, "p-1", models.Project{Name: "Lakeside", Notes: "**Gate code** 4411"})
	p, err := Build(proj, Target{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Gate code 4411", p.Body.(*Customer).Notes)
}
