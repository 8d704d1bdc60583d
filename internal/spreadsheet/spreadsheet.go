package spreadsheet

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"tyrestock/backend/internal/domain"
)

const (
	itemsSheet  = "Items"
	stockSheet  = "Stock"
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var ErrEmptySheet = errors.New("spreadsheet has no header row")

var itemHeaders = []string{"Name", "Category", "Brand", "Size", "Location", "Purchase Price", "Retail Price", "Discount", "Lower Limit", "Initial Stock"}

var stockHeaders = []string{"Item Code", "Quantity", "Operation", "Location", "Lower Limit", "Purchase Price", "Retail Price", "Discount", "Supplier"}

var exportHeaders = []string{"Item Code", "Name", "Category", "Brand", "Size", "Location", "Quantity In Stock", "Purchase Price", "Retail Price", "Discount", "Lower Limit", "Active"}

// ExportItems writes the item list to a single-sheet workbook. categoryNames
// maps category ids to display names; unknown ids are written as is.
func ExportItems(items []domain.Item, categoryNames map[string]string) (*bytes.Buffer, error) {
	f, err := newWorkbook(itemsSheet, exportHeaders)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	for i, item := range items {
		category := item.Category
		if name, ok := categoryNames[item.Category]; ok {
			category = name
		}
		row := []any{
			item.ItemCode,
			item.Name,
			category,
			item.Brand,
			item.Size,
			item.Location,
			item.QuantityInStock,
			item.PurchasePrice.InexactFloat64(),
			item.RetailPrice.InexactFloat64(),
			item.Discount.InexactFloat64(),
			item.LowerLimit,
			item.IsActive,
		}
		if err := setRow(f, itemsSheet, i+2, row); err != nil {
			return nil, err
		}
	}
	return f.WriteToBuffer()
}

// ItemTemplate is a blank import sheet with one example row.
func ItemTemplate() (*bytes.Buffer, error) {
	f, err := newWorkbook(itemsSheet, itemHeaders)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	example := []any{"Tyre 195/65R15", "Passenger", "Bridgestone", "195/65R15", "Rack A1", 12500, 16500, 0, 4, 10}
	if err := setRow(f, itemsSheet, 2, example); err != nil {
		return nil, err
	}
	return f.WriteToBuffer()
}

// StockTemplate is a blank bulk stock sheet with one example row.
func StockTemplate() (*bytes.Buffer, error) {
	f, err := newWorkbook(stockSheet, stockHeaders)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := setRow(f, stockSheet, 2, []any{"RT0001", 10, "add", "A-12", 4, 12500, 16500, "", "Lanka Tyre Traders"}); err != nil {
		return nil, err
	}
	return f.WriteToBuffer()
}

func newWorkbook(sheet string, headers []string) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		f.Close()
		return nil, err
	}
	header := make([]any, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	if err := setRow(f, sheet, 1, header); err != nil {
		f.Close()
		return nil, err
	}
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := f.SetRowStyle(sheet, 1, 1, style); err != nil {
		f.Close()
		return nil, err
	}
	last, _ := excelize.ColumnNumberToName(len(headers))
	if err := f.SetColWidth(sheet, "A", last, 18); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

// ParseItemRows reads the first sheet of an uploaded workbook as item rows.
// Rows that cannot be parsed are returned as failures with their sheet row
// number; the rest are returned for import.
func ParseItemRows(r io.Reader) ([]domain.BulkItemRow, []domain.BulkFailure, error) {
	rows, err := readRows(r)
	if err != nil {
		return nil, nil, err
	}
	cols := headerIndex(rows[0])
	if _, ok := cols["name"]; !ok {
		return nil, nil, fmt.Errorf("%w: missing Name column", ErrEmptySheet)
	}

	out := make([]domain.BulkItemRow, 0, len(rows)-1)
	failed := make([]domain.BulkFailure, 0)
	for i, raw := range rows[1:] {
		if blank(raw) {
			continue
		}
		cell := cellReader{raw: raw, cols: cols}
		item := domain.BulkItemRow{
			Row:      i + 2,
			Name:     cell.str("name"),
			Category: cell.str("category"),
			Brand:    cell.str("brand"),
			Size:     cell.str("size"),
			Location: cell.str("location"),
		}
		item.PurchasePrice = cell.decimal("purchaseprice")
		item.RetailPrice = cell.decimal("retailprice")
		item.Discount = cell.decimal("discount")
		item.LowerLimit = cell.integer("lowerlimit")
		item.InitialStock = cell.integer("initialstock")
		if cell.err != nil {
			failed = append(failed, domain.BulkFailure{Row: i + 2, Key: item.Name, Error: cell.err.Error()})
			continue
		}
		out = append(out, item)
	}
	return out, failed, nil
}

// ParseStockRows reads the first sheet of an uploaded workbook as stock rows.
func ParseStockRows(r io.Reader) ([]domain.BulkStockRow, []domain.BulkFailure, error) {
	rows, err := readRows(r)
	if err != nil {
		return nil, nil, err
	}
	cols := headerIndex(rows[0])
	if _, ok := cols["itemcode"]; !ok {
		return nil, nil, fmt.Errorf("%w: missing Item Code column", ErrEmptySheet)
	}

	out := make([]domain.BulkStockRow, 0, len(rows)-1)
	failed := make([]domain.BulkFailure, 0)
	for i, raw := range rows[1:] {
		if blank(raw) {
			continue
		}
		cell := cellReader{raw: raw, cols: cols}
		row := domain.BulkStockRow{
			Row:       i + 2,
			ItemCode:  strings.ToUpper(cell.str("itemcode")),
			Quantity:  cell.integer("quantity"),
			Operation: strings.ToLower(cell.str("operation")),
			Supplier:  cell.str("supplier"),
		}
		row.Location = cell.optionalStr("location")
		row.LowerLimit = cell.optionalInteger("lowerlimit")
		row.PurchasePrice = cell.optionalDecimal("purchaseprice")
		row.RetailPrice = cell.optionalDecimal("retailprice")
		row.Discount = cell.optionalDecimal("discount")
		if cell.err != nil {
			failed = append(failed, domain.BulkFailure{Row: i + 2, Key: row.ItemCode, Error: cell.err.Error()})
			continue
		}
		out = append(out, row)
	}
	return out, failed, nil
}

func readRows(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptySheet
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrEmptySheet
	}
	return rows, nil
}

// headerIndex maps normalised header text ("Purchase Price" -> "purchaseprice")
// to its column index.
func headerIndex(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.NewReplacer(" ", "", "_", "", "-", "").Replace(strings.TrimSpace(h)))
		if key != "" {
			cols[key] = i
		}
	}
	return cols
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// cellReader keeps the first conversion error so a row is reported once.
type cellReader struct {
	raw  []string
	cols map[string]int
	err  error
}

func (c *cellReader) str(col string) string {
	i, ok := c.cols[col]
	if !ok || i >= len(c.raw) {
		return ""
	}
	return strings.TrimSpace(c.raw[i])
}

func (c *cellReader) decimal(col string) decimal.Decimal {
	v := c.optionalDecimal(col)
	if v == nil {
		return decimal.Zero
	}
	return *v
}

func (c *cellReader) optionalDecimal(col string) *decimal.Decimal {
	raw := strings.ReplaceAll(c.str(col), ",", "")
	if raw == "" {
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		if c.err == nil {
			c.err = fmt.Errorf("invalid %s %q", col, raw)
		}
		return nil
	}
	return &d
}

func (c *cellReader) integer(col string) int {
	raw := c.str(col)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		// Spreadsheet apps often store whole numbers as "10.0".
		d, derr := decimal.NewFromString(raw)
		if derr != nil || !d.IsInteger() {
			if c.err == nil {
				c.err = fmt.Errorf("invalid %s %q", col, raw)
			}
			return 0
		}
		return int(d.IntPart())
	}
	return n
}

// optionalStr and optionalInteger return nil for empty cells so a bulk update
// leaves the field unchanged.
func (c *cellReader) optionalStr(col string) *string {
	v := c.str(col)
	if v == "" {
		return nil
	}
	return &v
}

func (c *cellReader) optionalInteger(col string) *int {
	if c.str(col) == "" {
		return nil
	}
	n := c.integer(col)
	return &n
}
