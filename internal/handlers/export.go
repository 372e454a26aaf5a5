package handlers

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"analytics/internal/aggregator"
	"analytics/internal/models"
	"analytics/internal/store"
)

const maxUploadBytes = 32 << 20

var uploadColumns = []string{"timestamp", "symbol", "open", "high", "low", "close", "volume"}

// handleExport streams persisted ticks as CSV or a JSON array. start and end
// are epoch milliseconds or ISO-8601.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.sendError(w, http.StatusServiceUnavailable, "persistence_disabled", "Export needs the database")
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "json" {
		s.sendError(w, http.StatusBadRequest, "invalid_parameter", "format must be csv or json")
		return
	}

	q := store.TickQuery{Symbol: models.NormalizeSymbol(r.URL.Query().Get("symbol"))}
	for name, dst := range map[string]**float64{"start": &q.Start, "end": &q.End} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		ts, err := aggregator.ParseMillis(raw)
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "invalid_parameter", name+" is not a timestamp")
			return
		}
		*dst = &ts
	}

	filename := "ticks"
	if q.Symbol != "" {
		filename += "_" + strings.ToLower(q.Symbol)
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.%s", filename, format))

	var err error
	if format == "csv" {
		err = s.exportCSV(w, r, q)
	} else {
		err = s.exportJSON(w, r, q)
	}
	if err != nil {
		// headers are gone; the truncated body is all the client gets
		s.logger.Error("export_failed", "symbol", q.Symbol, "format", format, "error", err)
	}
}

func (s *Server) exportCSV(w http.ResponseWriter, r *http.Request, q store.TickQuery) error {
	w.Header().Set("Content-Type", "text/csv")
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "symbol", "price", "size"}); err != nil {
		return err
	}
	err := s.store.EachTick(r.Context(), q, func(t models.Tick) error {
		return cw.Write([]string{
			strconv.FormatFloat(t.Timestamp, 'f', -1, 64),
			t.Symbol,
			strconv.FormatFloat(t.Price, 'f', -1, 64),
			strconv.FormatFloat(t.Quantity, 'f', -1, 64),
		})
	})
	cw.Flush()
	if err != nil {
		return err
	}
	return cw.Error()
}

func (s *Server) exportJSON(w http.ResponseWriter, r *http.Request, q store.TickQuery) error {
	w.Header().Set("Content-Type", "application/json")
	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}
	first := true
	err := s.store.EachTick(r.Context(), q, func(t models.Tick) error {
		if !first {
			if _, err := io.WriteString(w, ","); err != nil {
				return err
			}
		}
		first = false
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	})
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, "]\n")
	return err
}

// handleExportTemplate serves an example OHLC upload file. Numeric timestamps
// are epoch milliseconds.
func (s *Server) handleExportTemplate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=ohlc_template.csv")
	cw := csv.NewWriter(w)
	cw.Write(uploadColumns)
	cw.Write([]string{"1729857045000", "BTCUSDT", "67500.00", "67600.00", "67400.00", "67550.00", "125.5"})
	cw.Write([]string{"1729857105000", "BTCUSDT", "67550.00", "67650.00", "67500.00", "67600.00", "98.3"})
	cw.Write([]string{"1729857165000", "ETHUSDT", "3500.00", "3510.00", "3495.00", "3505.00", "450.2"})
	cw.Flush()
}

type uploadResponse struct {
	models.UploadSummary
	RejectedRows int `json:"rejected_rows"`
}

// handleUpload loads a multipart CSV of 1m candles into history. The symbol
// column may be omitted when a "symbol" form value is sent.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "missing_file", "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	candles, rejected, err := parseCandlesCSV(file, r.FormValue("symbol"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid_csv", err.Error())
		return
	}
	if len(candles) == 0 {
		s.sendError(w, http.StatusBadRequest, "no_valid_rows", "CSV contained no valid candles")
		return
	}

	summary, err := s.coord.LoadHistory(r.Context(), candles)
	if err != nil {
		s.logger.Error("upload_failed", "error", err)
		s.sendError(w, http.StatusInternalServerError, "database_error", "Failed to store uploaded candles")
		return
	}
	s.logger.Info("upload_complete", "candles", summary.Candles, "rejected_rows", rejected)
	s.sendJSON(w, http.StatusOK, uploadResponse{UploadSummary: summary, RejectedRows: rejected})
}

// parseCandlesCSV maps columns by header name. Rows that fail to parse are
// counted and skipped.
func parseCandlesCSV(r io.Reader, defaultSymbol string) ([]models.Candle, int, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range uploadColumns {
		if _, ok := index[col]; !ok && !(col == "symbol" && defaultSymbol != "") {
			return nil, 0, fmt.Errorf("missing column %q", col)
		}
	}

	var candles []models.Candle
	rejected := 0
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				rejected++
				continue
			}
			return nil, rejected, err
		}

		candle, ok := candleFromRecord(record, index, defaultSymbol)
		if !ok {
			rejected++
			continue
		}
		candles = append(candles, candle)
	}
	return candles, rejected, nil
}

func candleFromRecord(record []string, index map[string]int, defaultSymbol string) (models.Candle, bool) {
	field := func(name string) (string, bool) {
		i, ok := index[name]
		if !ok || i >= len(record) {
			return "", false
		}
		return strings.TrimSpace(record[i]), true
	}
	number := func(name string) (float64, bool) {
		v, ok := field(name)
		if !ok {
			return 0, false
		}
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}

	var c models.Candle
	raw, ok := field("timestamp")
	if !ok {
		return c, false
	}
	ts, err := aggregator.ParseMillis(raw)
	if err != nil {
		return c, false
	}
	c.Timestamp = ts

	c.Symbol = defaultSymbol
	if sym, ok := field("symbol"); ok && sym != "" {
		c.Symbol = sym
	}
	c.Symbol = models.NormalizeSymbol(c.Symbol)
	if c.Symbol == "" {
		return c, false
	}

	var okO, okH, okL, okC, okV bool
	c.Open, okO = number("open")
	c.High, okH = number("high")
	c.Low, okL = number("low")
	c.Close, okC = number("close")
	c.Volume, okV = number("volume")
	c.Timeframe = models.Timeframe1m
	c.TickCount = 1
	return c, okO && okH && okL && okC && okV
}
