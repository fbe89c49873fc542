// Package pdf renders payment receipts with maroto.
package pdf

import (
	"context"
	"fmt"
	"strconv"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// ReceiptData carries everything printed on a settled payment receipt.
// Amounts are minor currency units.
type ReceiptData struct {
	Reference      string
	AccountName    string
	AccountEmail   string
	PlanName       string
	Description    string
	CreditsGranted int64
	AmountMinor    int64
	SettledMinor   int64
	GatewayName    string
	PaidAt         string
	PayeeName      string
	PayeeBank      string
}

type ReceiptRenderer struct{}

func NewReceiptRenderer() *ReceiptRenderer {
	return &ReceiptRenderer{}
}

func (r *ReceiptRenderer) Render(ctx context.Context, data ReceiptData) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(8, "Payment Receipt", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, data.PayeeName, props.Text{
			Size:  11,
			Align: align.Right,
			Top:   4,
		}),
	)

	m.AddRow(20,
		col.New(6).Add(
			text.New("Reference: "+data.Reference, props.Text{Top: 0}),
			text.New("Date paid: "+data.PaidAt, props.Text{Top: 5}),
			text.New("Gateway: "+data.GatewayName, props.Text{Top: 10}),
		),
		col.New(6).Add(
			text.New("Billed to", props.Text{Style: fontstyle.Bold}),
			text.New(data.AccountName, props.Text{Top: 5}),
			text.New(data.AccountEmail, props.Text{Top: 10}),
		),
	)

	m.AddRow(15,
		text.NewCol(12, FormatAmount(data.SettledMinor)+" paid on "+data.PaidAt, props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Top:   5,
		}),
	)

	m.AddRow(12,
		text.NewCol(12, "Paid to "+data.PayeeName+" via bank transfer ("+data.PayeeBank+")", props.Text{
			Size: 9,
		}),
	)

	m.AddRow(10,
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Credits", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(3, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(12,
		text.NewCol(6, data.Description, props.Text{Size: 9}),
		text.NewCol(3, strconv.FormatInt(data.CreditsGranted, 10), props.Text{Size: 9, Align: align.Right}),
		text.NewCol(3, FormatAmount(data.AmountMinor), props.Text{Size: 9, Align: align.Right}),
	)

	m.AddRow(10,
		col.New(6),
		text.NewCol(3, "Total settled", props.Text{Size: 9, Style: fontstyle.Bold}),
		text.NewCol(3, FormatAmount(data.SettledMinor), props.Text{Size: 9, Align: align.Right}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}

// FormatAmount renders minor units with thousand separators. VND has no
// decimal subdivision, so minor units are the display amount.
func FormatAmount(minor int64) string {
	raw := strconv.FormatInt(minor, 10)
	negative := false
	if len(raw) > 0 && raw[0] == '-' {
		negative = true
		raw = raw[1:]
	}

	var grouped []byte
	for i, digit := range []byte(raw) {
		if i > 0 && (len(raw)-i)%3 == 0 {
			grouped = append(grouped, '.')
		}
		grouped = append(grouped, digit)
	}

	out := string(grouped)
	if negative {
		out = "-" + out
	}
	return fmt.Sprintf("%s VND", out)
}
