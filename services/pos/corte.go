package pos

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/smtp"
	"strconv"
	"strings"
	"time"
	"wisppos-backend/services/wisphub"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jordan-wright/email"
	"github.com/xuri/excelize/v2"
	"go.opentelemetry.io/otel/codes"
)

// CutRow is the sales of one plan at one outlet during the period.
type CutRow struct {
	PlanId   string  `json:"id"`
	Plan     string  `json:"plan"`
	Price    float64 `json:"precio"`
	Currency string  `json:"moneda"`
	Sales    int     `json:"ventas_totales"`
	Total    float64 `json:"total"`
}

// OutletCut is the monthly cut of one outlet, only plans with sales are
// listed.
type OutletCut struct {
	Outlet string   `json:"outlet"`
	Rows   []CutRow `json:"rows"`
	Total  float64  `json:"total"`
}

type Corte struct {
	From time.Time   `json:"from"`
	To   time.Time   `json:"to"`
	Cuts []OutletCut `json:"outlets"`
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

func cutFromReport(report wisphub.Report) OutletCut {
	cut := OutletCut{Outlet: report.Outlet, Rows: []CutRow{}}
	for _, p := range report.Plans {
		if p.RecordsTotal == 0 {
			continue
		}
		row := CutRow{
			PlanId: p.Plan.Id,
			Plan:   p.Plan.Name,
			Sales:  p.RecordsTotal,
		}
		if p.Plan.Price != nil {
			row.Price = *p.Plan.Price
		}
		if p.Plan.Currency != nil {
			row.Currency = *p.Plan.Currency
		}
		row.Total = roundCents(float64(row.Sales) * row.Price)
		cut.Rows = append(cut.Rows, row)
		cut.Total += row.Total
	}
	cut.Total = roundCents(cut.Total)
	return cut
}

var cutHeader = table.Row{"id", "plan", "precio", "moneda", "ventas totales", "total"}

func money(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// CutTable renders the rows of a cut plus its total row into a go-pretty
// writer, the caller picks the output format.
func CutTable(cut OutletCut) table.Writer {
	t := table.NewWriter()
	t.SetTitle(cut.Outlet)
	t.AppendHeader(cutHeader)
	for _, r := range cut.Rows {
		t.AppendRow(table.Row{r.PlanId, r.Plan, money(r.Price), r.Currency, r.Sales, money(r.Total)})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", money(cut.Total)})
	return t
}

const XlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var sheetNameReplacer = strings.NewReplacer(
	":", " ", `\`, " ", "/", " ", "?", " ", "*", " ", "[", "(", "]", ")", "'", "",
)

// sheetName turns an outlet name into a worksheet name excel accepts, names
// are capped at 31 runes and must be unique within the workbook.
func sheetName(outlet string, used map[string]bool) string {
	base := strings.TrimSpace(sheetNameReplacer.Replace(outlet))
	if base == "" {
		base = "Punto de venta"
	}
	name := base
	for i := 2; ; i++ {
		runes := []rune(name)
		if len(runes) > 31 {
			name = string(runes[:31])
		}
		if !used[strings.ToLower(name)] {
			break
		}
		suffix := fmt.Sprintf(" (%d)", i)
		runes = []rune(base)
		if len(runes)+len(suffix) > 31 {
			runes = runes[:31-len(suffix)]
		}
		name = string(runes) + suffix
	}
	used[strings.ToLower(name)] = true
	return name
}

// Workbook builds one worksheet per outlet. prices, sales and totals are
// numeric cells so the sheet can be summed, the last row holds the outlet
// total.
func (c Corte) Workbook() (*excelize.File, error) {
	f := excelize.NewFile()
	moneyStyle, err := f.NewStyle(&excelize.Style{NumFmt: 2})
	if err != nil {
		f.Close()
		return nil, err
	}

	if len(c.Cuts) == 0 {
		err = f.SetSheetName(f.GetSheetName(0), "Corte")
		if err != nil {
			f.Close()
			return nil, err
		}
		return f, nil
	}

	used := map[string]bool{}
	for i, cut := range c.Cuts {
		sheet := sheetName(cut.Outlet, used)
		err = writeCutSheet(f, i, sheet, cut, moneyStyle)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("write sheet %q: %w", sheet, err)
		}
	}
	return f, nil
}

func writeCutSheet(f *excelize.File, index int, sheet string, cut OutletCut, moneyStyle int) error {
	var err error
	if index == 0 {
		err = f.SetSheetName(f.GetSheetName(0), sheet)
	} else {
		_, err = f.NewSheet(sheet)
	}
	if err != nil {
		return err
	}

	header := make([]any, len(cutHeader))
	for i, h := range cutHeader {
		header[i] = h
	}
	err = f.SetSheetRow(sheet, "A1", &header)
	if err != nil {
		return err
	}

	row := 2
	for _, r := range cut.Rows {
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		err = f.SetSheetRow(sheet, cell, &[]any{r.PlanId, r.Plan, r.Price, r.Currency, r.Sales, r.Total})
		if err != nil {
			return err
		}
		row++
	}
	totalCell, err := excelize.CoordinatesToCellName(len(cutHeader), row)
	if err != nil {
		return err
	}
	err = f.SetCellValue(sheet, totalCell, cut.Total)
	if err != nil {
		return err
	}

	err = f.SetCellStyle(sheet, "C2", fmt.Sprintf("C%d", row), moneyStyle)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, "F2", totalCell, moneyStyle)
}

// WriteXlsx writes the workbook of the cut to w.
func (c Corte) WriteXlsx(w io.Writer) error {
	f, err := c.Workbook()
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteTo(w)
	return err
}

func (c Corte) Filename() string {
	return fmt.Sprintf("corte-%s.xlsx", c.From.Format("2006-01"))
}

type SmtpConfig struct {
	Server       string `json:"server" env:"SERVER"`
	Port         int    `json:"port" env:"PORT"`
	EmailAddress string `json:"email_address" env:"EMAIL_ADDRESS"`
	Password     string `json:"password" env:"PASSWORD"`
}

// EmailCorte sends the cut as an xlsx attachment to every recipient.
func EmailCorte(ctx context.Context, config SmtpConfig, to []string, corte Corte) error {
	ctx, span := tracer.Start(ctx, "EmailCorte")
	defer span.End()

	var workbook bytes.Buffer
	err := corte.WriteXlsx(&workbook)
	if err != nil {
		return err
	}

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("Puntos de venta <%s>", config.EmailAddress)
	mail.To = to
	mail.Subject = fmt.Sprintf("Corte %s", corte.From.Format("01/2006"))

	var body strings.Builder
	body.WriteString(fmt.Sprintf("Corte del %s al %s.\n\n", corte.From.Format("02/01/2006"), corte.To.AddDate(0, 0, -1).Format("02/01/2006")))
	for _, cut := range corte.Cuts {
		body.WriteString(fmt.Sprintf("%s: %s\n", cut.Outlet, money(cut.Total)))
	}
	mail.Text = []byte(body.String())

	_, err = mail.Attach(&workbook, corte.Filename(), XlsxContentType)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to attach workbook")
		return err
	}

	addr := fmt.Sprintf("%s:%d", config.Server, config.Port)
	err = mail.Send(addr, smtp.PlainAuth("", config.EmailAddress, config.Password, config.Server))
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		return err
	}
	return nil
}
