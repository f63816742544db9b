package documents

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meghashyamc/jurisearch/db"
	"github.com/meghashyamc/jurisearch/db/kvdb"
)

const maxJobTime = 30 * time.Minute

type job struct {
	RequestID  string `json:"request_id"`
	DocumentID int64  `json:"document_id"`
}

// Jobs are persisted until they finish so that a restart picks up whatever
// was still queued.
func (s *Service) startWorkers(ctx context.Context, workers int) {
	for i := range workers {
		go s.work(ctx, i)
	}
	s.logger.Info("extraction workers started", "workers", workers)
}

func (s *Service) work(ctx context.Context, workerID int) {
	for {
		select {
		case j := <-s.jobsC:
			s.runJob(ctx, j, workerID)
		case <-ctx.Done():
			s.logger.Info("extraction worker stopped", "worker_id", workerID, "reason", ctx.Err())
			return
		}
	}
}

func (s *Service) enqueue(j job) {
	data, err := json.Marshal(j)
	if err != nil {
		s.logger.Error("failed to marshal extraction job", "request_id", j.RequestID, "err", err.Error())
		return
	}
	if err := s.kv.Set(kvdb.JobsBucket, j.RequestID, data); err != nil {
		s.logger.Error("failed to persist extraction job", "request_id", j.RequestID, "err", err.Error())
	}

	// Handing over blocks until a worker is free, so it happens off the
	// caller's goroutine.
	go func() {
		select {
		case s.jobsC <- j:
		case <-s.ctx.Done():
		}
	}()
}

func (s *Service) resumePendingJobs() {
	var pending []job
	err := s.kv.ForEach(kvdb.JobsBucket, func(key string, value []byte) error {
		var j job
		if err := json.Unmarshal(value, &j); err != nil {
			s.logger.Error("dropping undecodable extraction job", "request_id", key, "err", err.Error())
			return nil
		}
		pending = append(pending, j)
		return nil
	})
	if err != nil {
		s.logger.Error("failed to read pending extraction jobs", "err", err.Error())
		return
	}

	for _, j := range pending {
		s.logger.Info("resuming extraction job", "request_id", j.RequestID, "id", j.DocumentID)
		s.enqueue(j)
	}
}

func (s *Service) runJob(ctx context.Context, j job, workerID int) {
	defer s.finishJob(j)

	if !s.claimJob(j) {
		s.logger.Info("skipping superseded extraction job", "request_id", j.RequestID, "id", j.DocumentID)
		return
	}

	pdf, err := s.store.Attachment(j.DocumentID)
	if err != nil {
		s.logger.Error("failed to load attachment for extraction", "request_id", j.RequestID, "err", err.Error())
		s.failJob(j, err)
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, maxJobTime)
	defer cancel()

	s.logger.Info("extracting document text", "request_id", j.RequestID, "id", j.DocumentID, "worker_id", workerID)
	result, extractErr := s.extractor.Extract(jobCtx, pdf)

	err = s.store.Modify(j.DocumentID, func(doc *db.Document) error {
		if doc.Extraction.RequestID != j.RequestID {
			return ErrSkip
		}
		return s.applyExtraction(doc, result, extractErr, false)
	})
	if err != nil {
		s.logger.Error("failed to store extracted text", "request_id", j.RequestID, "err", err.Error())
	}
}

// claimJob marks the document as running when the job is still the latest
// one requested for it.
func (s *Service) claimJob(j job) bool {
	claimed := false
	err := s.store.Modify(j.DocumentID, func(doc *db.Document) error {
		if doc.Extraction.RequestID != j.RequestID {
			return ErrSkip
		}
		doc.Extraction.Status = db.ExtractionRunning
		doc.Extraction.UpdatedAt = time.Now().UTC()
		claimed = true
		return nil
	})
	if err != nil {
		s.logger.Error("failed to claim extraction job", "request_id", j.RequestID, "err", err.Error())
		return false
	}
	return claimed
}

func (s *Service) failJob(j job, cause error) {
	err := s.store.Modify(j.DocumentID, func(doc *db.Document) error {
		if doc.Extraction.RequestID != j.RequestID {
			return ErrSkip
		}
		doc.Extraction.Status = db.ExtractionFailed
		doc.Extraction.Error = cause.Error()
		doc.Extraction.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		s.logger.Error("failed to record extraction failure", "request_id", j.RequestID, "err", err.Error())
	}
}

func (s *Service) finishJob(j job) {
	if err := s.kv.Delete(kvdb.JobsBucket, j.RequestID); err != nil {
		s.logger.Error("failed to remove finished extraction job", "request_id", j.RequestID, "err", err.Error())
	}
}

// ExtractionStatus returns the extraction state of a document.
func (s *Service) ExtractionStatus(id int64) (*db.ExtractionInfo, error) {
	doc, err := s.store.Get(id)
	if err != nil {
		return nil, fmt.Errorf("failed to read extraction status: %w", err)
	}
	return &doc.Extraction, nil
}
