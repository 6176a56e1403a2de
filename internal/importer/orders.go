package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/cleared-dev/splitledger/internal/model"
)

// Order report columns. Each row is one line item; the order-level columns
// repeat on every line of the same order. A row without unit_price carries
// only the order.
const (
	colOrderID     = "order_id"
	colOrderDate   = "order_date"
	colOrderTotal  = "order_total"
	colTax         = "tax"
	colShipping    = "shipping"
	colProductID   = "product_id"
	colDescription = "description"
	colQuantity    = "quantity"
	colUnitPrice   = "unit_price"
)

var orderRequired = []string{colOrderID, colOrderDate, colOrderTotal}

var orderDateFormats = []string{"2006-01-02", "01/02/2006"}

// OrderResult is the outcome of reading marketplace order reports.
type OrderResult struct {
	Book    *model.OrderBook
	Skipped []RowError
}

// ParseOrdersCSV reads an order report in CSV form.
func ParseOrdersCSV(r io.Reader) (OrderResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return OrderResult{}, fmt.Errorf("reading order CSV: %w", err)
	}
	return parseOrderRows(rows)
}

// ParseOrdersXLSX reads an order report from the first sheet of an XLSX
// workbook.
func ParseOrdersXLSX(path string) (OrderResult, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return OrderResult{}, fmt.Errorf("opening order workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return OrderResult{}, errors.New("order workbook has no sheets")
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return OrderResult{}, fmt.Errorf("reading sheet %q: %w", sheet, err)
	}
	return parseOrderRows(rows)
}

// LoadOrders reads every .csv and .xlsx report under dir matching pattern
// and merges them into one OrderBook.
func LoadOrders(dir, pattern string) (OrderResult, error) {
	paths, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return OrderResult{}, fmt.Errorf("bad orders pattern %q: %w", pattern, err)
	}
	sort.Strings(paths)

	out := OrderResult{Book: model.NewOrderBook()}
	for _, path := range paths {
		var (
			res OrderResult
			err error
		)
		switch strings.ToLower(filepath.Ext(path)) {
		case ".csv":
			res, err = ParseFileOrders(path)
		case ".xlsx":
			res, err = ParseOrdersXLSX(path)
		default:
			continue
		}
		if err != nil {
			return OrderResult{}, fmt.Errorf("loading %s: %w", filepath.Base(path), err)
		}
		for _, re := range res.Skipped {
			re.File = filepath.Base(path)
			out.Skipped = append(out.Skipped, re)
		}
		out.Book.Merge(res.Book)
	}
	return out, nil
}

// ParseFileOrders opens a CSV order report at path.
func ParseFileOrders(path string) (OrderResult, error) {
	f, err := openFile(path)
	if err != nil {
		return OrderResult{}, err
	}
	defer f.Close()
	return ParseOrdersCSV(f)
}

func parseOrderRows(rows [][]string) (OrderResult, error) {
	res := OrderResult{Book: model.NewOrderBook()}
	if len(rows) == 0 {
		return res, nil
	}
	cols, err := headerIndex(rows[0], orderRequired)
	if err != nil {
		return OrderResult{}, err
	}

	for i, fields := range rows[1:] {
		if blank(fields) {
			continue
		}
		if err := addOrderRow(res.Book, cols, fields); err != nil {
			res.Skipped = append(res.Skipped, RowError{Row: i + 2, Err: err})
		}
	}
	return res, nil
}

func addOrderRow(book *model.OrderBook, cols columns, fields []string) error {
	order, err := parseOrder(cols, fields)
	if err != nil {
		return err
	}
	if prev, ok := book.Orders[order.OrderID]; ok {
		if prev.TotalCents != order.TotalCents || !prev.Date.Equal(order.Date) {
			return fmt.Errorf("order %s: conflicting total or date", order.OrderID)
		}
	}

	var item *model.OrderLineItem
	if cols.get(fields, colUnitPrice) != "" {
		it, err := parseItem(cols, fields, order.OrderID)
		if err != nil {
			return err
		}
		item = &it
	}

	book.Orders[order.OrderID] = order
	if item != nil {
		book.Items[order.OrderID] = append(book.Items[order.OrderID], *item)
	}
	return nil
}

func parseOrder(cols columns, fields []string) (model.MarketplaceOrder, error) {
	id := cols.get(fields, colOrderID)
	if id == "" {
		return model.MarketplaceOrder{}, errors.New("missing order_id")
	}
	date, err := parseOrderDate(cols.get(fields, colOrderDate))
	if err != nil {
		return model.MarketplaceOrder{}, err
	}
	total, err := model.ParseCents(cols.get(fields, colOrderTotal))
	if err != nil {
		return model.MarketplaceOrder{}, err
	}
	tax, err := optionalCents(cols.get(fields, colTax))
	if err != nil {
		return model.MarketplaceOrder{}, err
	}
	shipping, err := optionalCents(cols.get(fields, colShipping))
	if err != nil {
		return model.MarketplaceOrder{}, err
	}
	return model.MarketplaceOrder{
		OrderID:       id,
		Date:          date,
		TotalCents:    total,
		TaxCents:      tax,
		ShippingCents: shipping,
	}, nil
}

func parseItem(cols columns, fields []string, orderID string) (model.OrderLineItem, error) {
	price, err := model.ParseCents(cols.get(fields, colUnitPrice))
	if err != nil {
		return model.OrderLineItem{}, err
	}
	qty := 1
	if s := cols.get(fields, colQuantity); s != "" {
		qty, err = strconv.Atoi(s)
		if err != nil {
			return model.OrderLineItem{}, fmt.Errorf("parsing quantity %q: %w", s, err)
		}
	}
	return model.OrderLineItem{
		OrderID:        orderID,
		UnitPriceCents: price,
		Quantity:       qty,
		Description:    cols.get(fields, colDescription),
		ProductID:      cols.get(fields, colProductID),
	}, nil
}

func parseOrderDate(s string) (time.Time, error) {
	for _, layout := range orderDateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parsing date %q", s)
}

func optionalCents(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return model.ParseCents(s)
}
