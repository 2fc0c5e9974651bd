package scan

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// WriteCSV dumps ranked rows to "scan_results_<timeframe>_<ts>.csv" under
// dir and returns the path. Opt-in; scans never write unless asked.
func WriteCSV(dir string, timeframe string, rows []Row) (string, error) {
	name := fmt.Sprintf("scan_results_%s_%s.csv", timeframe, time.Now().UTC().Format("20060102_150405"))
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"symbol", "exchange", "timeframe", "signal", "state", "price", "change",
		"volume_usd", "strength", "opportunity", "composite", "volume_composite",
		"combined", "confidence", "regime", "stop_loss", "take_profit", "timestamp",
	}
	if err := w.Write(header); err != nil {
		return "", err
	}
	for _, r := range rows {
		rec := []string{
			r.Pair, r.Exchange, r.Timeframe, string(r.Label), string(r.State),
			ftoa(r.Price), ftoa(r.Change), ftoa(r.VolumeUSD), ftoa(r.Strength),
			ftoa(r.Opportunity), ftoa(r.Composite), ftoa(r.VolumeComposite),
			ftoa(r.Combined), ftoa(r.Confidence), r.Regime.Regime,
			ftoa(r.Risk.StopLoss), ftoa(r.Risk.TakeProfit),
			r.Timestamp.Format(time.RFC3339),
		}
		if err := w.Write(rec); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("write csv: %w", err)
	}
	return path, nil
}

func ftoa(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
