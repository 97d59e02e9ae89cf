package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/san-kum/cardiosim/internal/engine"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID          string    `json:"id"`
	Model       string    `json:"model"`
	Timestamp   time.Time `json:"timestamp"`
	Nx          int       `json:"nx"`
	Ny          int       `json:"ny"`
	Gx          float64   `json:"gx"`
	Gy          float64   `json:"gy"`
	TMin        float64   `json:"t_min"`
	TMax        float64   `json:"t_max"`
	StepSize    float64   `json:"step_size"`
	Ratio       int       `json:"ratio"`
	LogInterval float64   `json:"log_interval"`
	EndTime     float64   `json:"end_time"`
	Halted      bool      `json:"halted"`
	Samples     int       `json:"samples"`
}

// Save writes one finished run under a fresh run directory: metadata.json
// plus series.csv with one column per logged variable, in binding order.
func (s *Store) Save(model string, cfg engine.Config, endTime float64, halted bool, log *engine.Log) (string, error) {
	runID := fmt.Sprintf("%s_%d", model, time.Now().UnixNano())
	runDir := filepath.Join(s.baseDir, runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	meta := RunMetadata{
		ID:          runID,
		Model:       model,
		Timestamp:   time.Now(),
		Nx:          cfg.Nx,
		Ny:          cfg.Ny,
		Gx:          cfg.Gx,
		Gy:          cfg.Gy,
		TMin:        cfg.TMin,
		TMax:        cfg.TMax,
		StepSize:    cfg.StepSize,
		Ratio:       cfg.Ratio,
		LogInterval: cfg.LogInterval,
		EndTime:     endTime,
		Halted:      halted,
		Samples:     log.Len(),
	}

	metaPath := filepath.Join(runDir, "metadata.json")
	metaFile, err := os.Create(metaPath)
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", err
	}

	csvPath := filepath.Join(runDir, "series.csv")
	csvFile, err := os.Create(csvPath)
	if err != nil {
		return "", err
	}
	defer csvFile.Close()

	w := csv.NewWriter(csvFile)
	defer w.Flush()

	names := log.Names()
	if len(names) == 0 {
		return runID, nil
	}
	if err := w.Write(names); err != nil {
		return "", err
	}

	series := make([][]float64, len(names))
	for i, name := range names {
		series[i] = log.Series(name)
	}
	row := make([]string, len(names))
	for i := 0; i < log.Len(); i++ {
		for j := range series {
			row[j] = strconv.FormatFloat(series[j][i], 'g', -1, 64)
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}

	return runID, nil
}

func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	metaPath := filepath.Join(s.baseDir, runID, "metadata.json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, err
	}
	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// LoadSeries reads a saved run's logged series back as column name -> values.
func (s *Store) LoadSeries(runID string) (map[string][]float64, error) {
	csvPath := filepath.Join(s.baseDir, runID, "series.csv")
	file, err := os.Open(csvPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return map[string][]float64{}, nil
	}

	header := records[0]
	out := make(map[string][]float64, len(header))
	for _, name := range header {
		out[name] = make([]float64, 0, len(records)-1)
	}
	for _, record := range records[1:] {
		for j, field := range record {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("storage: bad value %q in %s: %w", field, runID, err)
			}
			out[header[j]] = append(out[header[j]], v)
		}
	}
	return out, nil
}
