package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"xnat-importer/entities"

	"github.com/dustin/go-humanize"
	"github.com/elastic/go-elasticsearch/v7"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const bulkBatch = 100

// Outcome is the document indexed for every file of a run.
type Outcome struct {
	ID      string        `json:"id"`
	RunID   string        `json:"run_id"`
	File    string        `json:"file"`
	Outcome string        `json:"outcome"`
	Reason  string        `json:"reason,omitempty"`
	Kind    entities.Kind `json:"kind,omitempty"`
	Created int64         `json:"created"`
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []struct {
		Index struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"index"`
	} `json:"items"`
}

// Outcomes flattens snap into one document per entry.
func Outcomes(runID string, snap entities.ResultSnapshot, at time.Time) []Outcome {
	created := at.UnixNano() / int64(time.Millisecond)
	out := make([]Outcome, 0, len(snap.Uploaded)+len(snap.AlreadyExists)+len(snap.Failed))
	for _, f := range snap.Uploaded {
		out = append(out, Outcome{ID: uuid.New().String(), RunID: runID, File: f, Outcome: entities.OutcomeUploaded.String(), Created: created})
	}
	for _, f := range snap.AlreadyExists {
		out = append(out, Outcome{ID: uuid.New().String(), RunID: runID, File: f, Outcome: entities.OutcomeAlreadyExists.String(), Created: created})
	}
	for _, f := range snap.Failed {
		outcome := "failed"
		switch f.Kind {
		case entities.KindValidation:
			outcome = entities.OutcomeValidationFailed.String()
		case entities.KindTransport:
			outcome = entities.OutcomeTransportFailed.String()
		}
		out = append(out, Outcome{
			ID:      uuid.New().String(),
			RunID:   runID,
			File:    f.File,
			Outcome: outcome,
			Reason:  f.Reason,
			Kind:    f.Kind,
			Created: created,
		})
	}
	return out
}

// OutcomeIndexer bulk indexes the outcomes of a run into a monthly index.
type OutcomeIndexer struct {
	esClient    *elasticsearch.Client
	indexPrefix string
	logger      *zap.Logger
}

func NewOutcomeIndexer(client *elasticsearch.Client, indexPrefix string, logger *zap.Logger) *OutcomeIndexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutcomeIndexer{esClient: client, indexPrefix: indexPrefix, logger: logger}
}

func (idx *OutcomeIndexer) indexName(at time.Time) string {
	return strings.ToLower(fmt.Sprintf("%s_outcome_%d%02d", idx.indexPrefix, at.Year(), at.Month()))
}

// Index sends docs in batches and returns the number of documents
// the cluster rejected.
func (idx *OutcomeIndexer) Index(ctx context.Context, docs []Outcome, at time.Time) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	var (
		indexName  = idx.indexName(at)
		buf        bytes.Buffer
		numErrors  int
		numIndexed int
		start      = time.Now()
	)

	idx.logger.Debug("bulk indexing outcomes",
		zap.String("index", indexName),
		zap.String("documents", humanize.Comma(int64(len(docs)))))

	for i, doc := range docs {
		meta := []byte(fmt.Sprintf(`{ "index" : { "_id" : "%s" } }%s`, doc.ID, "\n"))
		data, err := json.Marshal(doc)
		if err != nil {
			return numErrors, errors.Wrapf(err, "encode %s", doc.ID)
		}
		data = append(data, "\n"...)

		buf.Grow(len(meta) + len(data))
		buf.Write(meta)
		buf.Write(data)

		if (i+1)%bulkBatch != 0 && i != len(docs)-1 {
			continue
		}

		indexed, failed, err := idx.flush(ctx, indexName, &buf)
		if err != nil {
			return numErrors, err
		}
		numIndexed += indexed
		numErrors += failed
		buf.Reset()
	}

	idx.logger.Info("outcomes indexed",
		zap.String("index", indexName),
		zap.String("indexed", humanize.Comma(int64(numIndexed))),
		zap.String("errors", humanize.Comma(int64(numErrors))),
		zap.Duration("took", time.Since(start).Truncate(time.Millisecond)))
	return numErrors, nil
}

func (idx *OutcomeIndexer) flush(ctx context.Context, indexName string, buf *bytes.Buffer) (int, int, error) {
	es := idx.esClient
	res, err := es.Bulk(bytes.NewReader(buf.Bytes()),
		es.Bulk.WithContext(ctx),
		es.Bulk.WithIndex(indexName))
	if err != nil {
		return 0, 0, errors.Wrap(err, "bulk request")
	}
	defer res.Body.Close()

	if res.IsError() {
		return 0, 0, fmt.Errorf("bulk request: %s", res.Status())
	}

	var blk bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&blk); err != nil {
		return 0, 0, errors.Wrap(err, "parse bulk response")
	}

	var indexed, failed int
	for _, d := range blk.Items {
		if d.Index.Status > 201 {
			failed++
			idx.logger.Debug("outcome rejected",
				zap.String("id", d.Index.ID),
				zap.Int("status", d.Index.Status),
				zap.String("type", d.Index.Error.Type),
				zap.String("reason", d.Index.Error.Reason))
		} else {
			indexed++
		}
	}
	return indexed, failed, nil
}
