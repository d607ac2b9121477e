package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/xuri/excelize/v2"

	"github.com/roach88/grab/internal/store"
)

// Export formats accepted by --as.
const (
	ExportXLSX = "xlsx"
	ExportCSV  = "csv"
	ExportJSON = "json"
)

// ExportSheet is the worksheet name of the xlsx export.
const ExportSheet = "items"

// ExportBaseName is the file name, without extension, of every export.
const ExportBaseName = "grab_export"

// utf8BOM lets spreadsheet tools detect the encoding of the CSV file.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	As  string
	Out string
}

// ExportResult is the output of grab export.
type ExportResult struct {
	Rows  int      `json:"rows"`
	Files []string `json:"files"`
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the per-item export table",
		Long: `Write one row per order item, joined with its store, order and media, to
the export directory.

Example:
  grab export
  grab export --as xlsx,csv,json --out ./out`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.As, "as", ExportXLSX+","+ExportCSV, "comma-separated export formats (xlsx,csv,json)")
	cmd.Flags().StringVar(&opts.Out, "out", "", "export directory (default from config)")

	return cmd
}

func runExport(cmd *cobra.Command, opts *ExportOptions) error {
	formats, err := parseExportFormats(opts.As)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --as", err)
	}

	env, err := openEnvironment(cmd, opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer env.Close()

	outDir := opts.Out
	if outDir == "" {
		outDir = env.settings.ExportDir
	}
	if outDir, err = filepath.Abs(outDir); err != nil {
		return WrapExitError(ExitCommandError, "invalid --out", err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return WrapExitError(ExitFailure, "failed to create export directory", err)
	}

	rows, err := env.store.ExportRows(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read export rows", err)
	}

	result := ExportResult{Rows: len(rows), Files: []string{}}
	for _, format := range formats {
		path := filepath.Join(outDir, ExportBaseName+"."+format)
		if err := writeExportFile(path, format, rows); err != nil {
			return WrapExitError(ExitFailure, "export failed", err)
		}
		env.log.WithField("path", path).WithField("rows", len(rows)).Info("export written")
		result.Files = append(result.Files, path)
	}

	return newFormatter(cmd, opts.RootOptions).Emit(result, func(w io.Writer) error {
		fmt.Fprintf(w, "Export finished: %d rows\n", result.Rows)
		for _, f := range result.Files {
			fmt.Fprintf(w, "- %s\n", f)
		}
		return nil
	})
}

func parseExportFormats(value string) ([]string, error) {
	var formats []string
	for _, f := range strings.Split(value, ",") {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" || slices.Contains(formats, f) {
			continue
		}
		if f != ExportXLSX && f != ExportCSV && f != ExportJSON {
			return nil, fmt.Errorf("unsupported format %q", f)
		}
		formats = append(formats, f)
	}
	if len(formats) == 0 {
		return nil, fmt.Errorf("no format given")
	}
	return formats, nil
}

func writeExportFile(path, format string, rows []store.ExportRow) error {
	if format == ExportXLSX {
		if err := writeXLSX(path, rows); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	switch format {
	case ExportCSV:
		err = writeCSV(f, rows)
	case ExportJSON:
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		if rows == nil {
			rows = []store.ExportRow{}
		}
		err = enc.Encode(rows)
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// exportColumns names the CSV columns in order; the names match the JSON
// field names of store.ExportRow.
var exportColumns = []string{
	"order_db_id", "item_db_id", "store_code", "store_name", "external_order_id",
	"order_datetime", "paid_datetime", "delivered_datetime", "currency",
	"subtotal_amount", "shipping_amount", "discount_amount", "total_amount",
	"status", "source_url", "external_item_id", "title_full", "title_short",
	"store_category_path", "unified_category_path", "brand", "model", "sku",
	"quantity", "unit_price", "item_discount_amount", "item_shipping_amount",
	"item_total_amount", "product_url", "order_url", "receipt_url",
	"media_paths", "media_urls",
}

func exportRecord(r store.ExportRow) []string {
	return []string{
		strconv.FormatInt(r.OrderID, 10), strconv.FormatInt(r.ItemID, 10),
		r.StoreCode, r.StoreName, r.ExternalOrderID,
		csvTime(r.OrderDate), csvTime(r.PaidDate), csvTime(r.DeliveredDate), r.Currency,
		csvDecimal(r.Subtotal), csvDecimal(r.Shipping), csvDecimal(r.Discount), csvDecimal(r.Total),
		r.Status, r.SourceURL, r.ExternalItemID, r.TitleFull, r.TitleShort,
		r.StoreCategoryPath, r.UnifiedCategoryPath, r.Brand, r.Model, r.SKU,
		csvDecimal(r.Quantity), csvDecimal(r.UnitPrice), csvDecimal(r.ItemDiscount), csvDecimal(r.ItemShipping),
		csvDecimal(r.ItemTotal), r.ProductURL, r.OrderURL, r.ReceiptURL,
		r.MediaPaths, r.MediaURLs,
	}
}

// writeCSV writes a BOM, the header and one record per row.
func writeCSV(w io.Writer, rows []store.ExportRow) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(exportColumns); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(exportRecord(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// writeXLSX writes the header and one row per item to the items sheet.
func writeXLSX(path string, rows []store.ExportRow) (err error) {
	f := excelize.NewFile()
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()

	if err := f.SetSheetName("Sheet1", ExportSheet); err != nil {
		return err
	}
	if err := setXLSXRow(f, 1, exportColumns); err != nil {
		return err
	}
	for i, r := range rows {
		if err := setXLSXRow(f, i+2, exportRecord(r)); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}

func setXLSXRow(f *excelize.File, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	cells := make([]any, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return f.SetSheetRow(ExportSheet, cell, &cells)
}

func csvTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func csvDecimal(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}
