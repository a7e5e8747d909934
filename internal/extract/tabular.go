package extract

import (
	"encoding/csv"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/ingestpipe/ingestpipe/internal/schema"
	"github.com/ingestpipe/ingestpipe/pkg/config"
	pkglogger "github.com/ingestpipe/ingestpipe/pkg/logger"
	"github.com/ingestpipe/ingestpipe/pkg/models"
)

// TabularExtractor stream-parses a CSV file into RawRecord maps. It
// resolves the CSV-cap-plus-drift open question (spec §9.5) by evaluating
// drift against the raw header row before mapping: DetectDrift always sees
// the source's actual field names, never the already-unified shape.
type TabularExtractor struct {
	source models.Source
	path   string
	cap    int
	mapper *schema.Mapper
	logger *logrus.Entry
}

func NewTabularExtractor(source models.Source, cfg config.SourceFileConfig, mapper *schema.Mapper, logger *logrus.Logger) *TabularExtractor {
	return &TabularExtractor{
		source: source,
		path:   cfg.Path,
		cap:    cfg.RecordCap,
		mapper: mapper,
		logger: pkglogger.WithSource(logger, string(source)).WithField("component", "extractor"),
	}
}

// Extract opens the configured CSV file, runs drift detection against the
// raw header, then maps and yields up to cap rows. Per §4.7's transport/
// decode-failure policy (already applied to the HTTP extractors), any
// failure to open the file or parse its contents — a missing file, an
// empty file, a malformed row mid-file — yields an empty sequence rather
// than a propagated error, so the orchestrator always has a (possibly
// empty) result to record for this source instead of dropping it.
func (e *TabularExtractor) Extract() ([]models.RawRecord, models.DriftResult) {
	file, err := os.Open(e.path)
	if err != nil {
		e.logger.WithError(err).Warn("tabular source fetch failed")
		return nil, models.DriftResult{}
	}
	defer file.Close()

	reader := csv.NewReader(file)
	headers, err := reader.Read()
	if err != nil {
		if err != io.EOF {
			e.logger.WithError(err).Warn("failed to read csv header")
		}
		return nil, models.DriftResult{}
	}

	var rawRows []models.RawRecord
	var firstRaw models.RawRecord

	for len(rawRows) < e.cap || e.cap <= 0 {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			e.logger.WithError(err).Warn("failed to read csv row")
			return nil, models.DriftResult{}
		}

		raw := make(models.RawRecord, len(headers))
		for i, h := range headers {
			if i < len(fields) {
				raw[h] = fields[i]
			}
		}
		if firstRaw == nil {
			firstRaw = raw
		}
		rawRows = append(rawRows, raw)

		if e.cap > 0 && len(rawRows) >= e.cap {
			break
		}
	}

	drift := models.DriftResult{}
	if firstRaw != nil {
		drift = e.mapper.DetectDrift(e.source, firstRaw)
	}

	mapped := make([]models.RawRecord, 0, len(rawRows))
	for _, row := range rawRows {
		mappedRow, _ := e.mapper.MapRow(e.source, row)
		mapped = append(mapped, mappedRow)
	}

	return mapped, drift
}
