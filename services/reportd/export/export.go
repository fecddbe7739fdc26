package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"lendpool/observability"
	"lendpool/services/reportd/storage"
)

type marketRow struct {
	Symbol             string `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	TotalDeposits      string `parquet:"name=total_deposits, type=BYTE_ARRAY, convertedtype=UTF8"`
	TotalBorrows       string `parquet:"name=total_borrows, type=BYTE_ARRAY, convertedtype=UTF8"`
	TotalDepositShares string `parquet:"name=total_deposit_shares, type=BYTE_ARRAY, convertedtype=UTF8"`
	LiquidityIndex     string `parquet:"name=liquidity_index, type=BYTE_ARRAY, convertedtype=UTF8"`
	BorrowIndex        string `parquet:"name=borrow_index, type=BYTE_ARRAY, convertedtype=UTF8"`
	UtilisationBps     int64  `parquet:"name=utilisation_bps, type=INT64"`
	DepositRateBps     int64  `parquet:"name=deposit_rate_bps, type=INT64"`
	BorrowRateBps      int64  `parquet:"name=borrow_rate_bps, type=INT64"`
	MarketTimestamp    int64  `parquet:"name=market_timestamp, type=INT64"`
	ObservedAt         string `parquet:"name=observed_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

type feeRow struct {
	Symbol      string `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Claimable   string `parquet:"name=claimable, type=BYTE_ARRAY, convertedtype=UTF8"`
	Cumulative  string `parquet:"name=cumulative, type=BYTE_ARRAY, convertedtype=UTF8"`
	LastAccrual int64  `parquet:"name=last_accrual, type=INT64"`
	ObservedAt  string `parquet:"name=observed_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// Result reports what one export run produced.
type Result struct {
	MarketsPath string
	FeesPath    string
	MarketRows  int
	FeeRows     int
}

// Exporter writes windowed snapshot extracts as parquet files.
type Exporter struct {
	store   *storage.Store
	dir     string
	logger  *slog.Logger
	metrics *observability.ReportdMetrics
	now     func() time.Time
}

// NewExporter builds an exporter rooted at dir.
func NewExporter(store *storage.Store, dir string, logger *slog.Logger) (*Exporter, error) {
	if store == nil {
		return nil, fmt.Errorf("export: store required")
	}
	if dir == "" {
		return nil, fmt.Errorf("export: directory required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		store:   store,
		dir:     dir,
		logger:  logger,
		metrics: observability.Reportd(),
		now:     time.Now,
	}, nil
}

// Export writes parquet extracts for every observation in [start, end).
// Windows with no observations produce no files.
func (e *Exporter) Export(ctx context.Context, start, end time.Time) (*Result, error) {
	result, err := e.export(ctx, start, end)
	e.metrics.RecordExport(err, e.now())
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Exporter) export(ctx context.Context, start, end time.Time) (*Result, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("export: window end must follow start")
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, fmt.Errorf("export: create directory: %w", err)
	}
	markets, err := e.store.MarketsBetween(ctx, start, end)
	if err != nil {
		return nil, err
	}
	fees, err := e.store.FeesBetween(ctx, start, end)
	if err != nil {
		return nil, err
	}

	result := &Result{MarketRows: len(markets), FeeRows: len(fees)}
	stamp := end.UTC().Format("2006-01-02")
	if len(markets) > 0 {
		path := filepath.Join(e.dir, fmt.Sprintf("markets-%s.parquet", stamp))
		rows := make([]*marketRow, 0, len(markets))
		for i := range markets {
			rows = append(rows, newMarketRow(&markets[i]))
		}
		if err := writeMarketParquet(path, rows); err != nil {
			return nil, err
		}
		result.MarketsPath = path
		e.logger.Info("wrote market extract", "path", path, "rows", len(rows))
	}
	if len(fees) > 0 {
		path := filepath.Join(e.dir, fmt.Sprintf("fees-%s.parquet", stamp))
		rows := make([]*feeRow, 0, len(fees))
		for i := range fees {
			rows = append(rows, newFeeRow(&fees[i]))
		}
		if err := writeFeeParquet(path, rows); err != nil {
			return nil, err
		}
		result.FeesPath = path
		e.logger.Info("wrote fee extract", "path", path, "rows", len(rows))
	}
	return result, nil
}

func newMarketRow(snapshot *storage.MarketSnapshot) *marketRow {
	return &marketRow{
		Symbol:             snapshot.Symbol,
		TotalDeposits:      snapshot.TotalDeposits,
		TotalBorrows:       snapshot.TotalBorrows,
		TotalDepositShares: snapshot.TotalDepositShares,
		LiquidityIndex:     snapshot.LiquidityIndex,
		BorrowIndex:        snapshot.BorrowIndex,
		UtilisationBps:     int64(snapshot.UtilisationBps),
		DepositRateBps:     int64(snapshot.DepositRateBps),
		BorrowRateBps:      int64(snapshot.BorrowRateBps),
		MarketTimestamp:    int64(snapshot.MarketTimestamp),
		ObservedAt:         snapshot.ObservedAt.UTC().Format(time.RFC3339),
	}
}

func newFeeRow(snapshot *storage.FeeSnapshot) *feeRow {
	return &feeRow{
		Symbol:      snapshot.Symbol,
		Claimable:   snapshot.Claimable,
		Cumulative:  snapshot.Cumulative,
		LastAccrual: int64(snapshot.LastAccrual),
		ObservedAt:  snapshot.ObservedAt.UTC().Format(time.RFC3339),
	}
}

func writeMarketParquet(path string, rows []*marketRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(marketRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("export: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("export: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("export: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("export: close parquet file: %w", err)
	}
	return nil
}

func writeFeeParquet(path string, rows []*feeRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(feeRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("export: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("export: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("export: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("export: close parquet file: %w", err)
	}
	return nil
}
