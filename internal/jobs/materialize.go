package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"continuity/internal/domain"
)

// materialize downloads the rendered video, watermarks it unless the job is
// entitled, uploads it and commits the URL. The ledger is written only by the
// final commit, so every failure leaves the row as it was.
func (s *Service) materialize(ctx context.Context, jobID string, job *domain.Job) (string, error) {
	if job != nil {
		current, err := s.ledger.Get(ctx, jobID)
		if err != nil {
			return "", domain.Internal(domain.StageLedger, "reload job", err)
		}
		if current.Materialized() {
			return current.OutputURL, nil
		}
		job = current
	}

	watermark := true
	owner := ""
	if job != nil {
		watermark = job.WatermarkRequired
		owner = job.OwnerID
	}
	log := s.logger.With().Str("job_id", jobID).Str("owner", ownerLabel(owner)).Bool("watermark", watermark).Logger()
	start := time.Now()

	scratch, err := newScratch(s.scratchDir, jobID)
	if err != nil {
		return "", domain.Internal(domain.StageDownload, "create scratch dir", err)
	}
	defer func() {
		if err := scratch.Cleanup(); err != nil {
			log.Warn().Err(err).Str("dir", scratch.Dir()).Msg("scratch cleanup failed")
		}
	}()

	rawPath := scratch.Path("raw" + domain.ArtifactExtension)
	if err := s.download(ctx, jobID, rawPath); err != nil {
		log.Error().Err(err).Str("stage", string(domain.StageDownload)).Msg("materialization failed")
		return "", err
	}

	outPath := rawPath
	if watermark {
		outPath = scratch.Path("marked" + domain.ArtifactExtension)
		tctx, cancel := withTimeout(ctx, s.transformTimeout)
		err := s.watermark.Apply(tctx, rawPath, outPath)
		cancel()
		if err != nil {
			err = ensureKind(err, domain.KindProcessing)
			log.Error().Err(err).Str("stage", string(domain.StageWatermark)).Msg("materialization failed")
			return "", err
		}
	}

	key := domain.ArtifactKey(owner, jobID)
	if err := s.upload(ctx, key, outPath); err != nil {
		log.Error().Err(err).Str("stage", string(domain.StageUpload)).Msg("materialization failed")
		return "", err
	}
	url := s.store.PublicURL(key)

	if job == nil {
		log.Info().Str("url", url).Dur("took", time.Since(start)).Msg("untracked job materialized")
		return url, nil
	}

	stored, won, err := s.ledger.CompleteOnce(ctx, jobID, url)
	if err != nil {
		err = domain.Internal(domain.StageCommit, "commit output url", err)
		log.Error().Err(err).Str("stage", string(domain.StageCommit)).Msg("materialization failed")
		return "", err
	}
	if !won {
		log.Warn().Str("url", stored).Msg("output url already committed by another worker")
		return stored, nil
	}
	log.Info().Str("url", stored).Dur("took", time.Since(start)).Msg("job materialized")
	return stored, nil
}

func (s *Service) download(ctx context.Context, jobID, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return domain.Internal(domain.StageDownload, "create scratch file", err)
	}
	dctx, cancel := withTimeout(ctx, s.upstreamTimeout)
	n, err := s.generator.FetchContentTo(dctx, jobID, f)
	cancel()
	if closeErr := f.Close(); err == nil && closeErr != nil {
		return domain.Internal(domain.StageDownload, "close scratch file", closeErr)
	}
	if err != nil {
		return ensureKind(err, domain.KindUpstream)
	}
	if n == 0 {
		return domain.UpstreamTransport(domain.StageDownload, errors.New("empty video content"))
	}
	return nil
}

func (s *Service) upload(ctx context.Context, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return domain.Storage("open artifact", err)
	}
	defer f.Close()

	uctx, cancel := withTimeout(ctx, s.storageTimeout)
	defer cancel()
	if err := s.store.Put(uctx, key, f, domain.ArtifactContentType); err != nil {
		return ensureKind(err, domain.KindStorage)
	}
	return nil
}

// ensureKind wraps collaborator errors that are not already classified.
func ensureKind(err error, kind domain.Kind) error {
	var e *domain.Error
	if errors.As(err, &e) {
		return err
	}
	switch kind {
	case domain.KindProcessing:
		return domain.Processing(domain.ExitCodeUnknown, "transform failed", err)
	case domain.KindStorage:
		return domain.Storage("upload failed", err)
	case domain.KindUpstream:
		return domain.UpstreamTransport(domain.StageDownload, err)
	default:
		return domain.Internal("", fmt.Sprintf("%s failure", kind), err)
	}
}
