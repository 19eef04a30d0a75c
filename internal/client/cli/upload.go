package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/bagqueue/internal/api"
	"github.com/dmitrijs2005/bagqueue/internal/filex"
	"github.com/dmitrijs2005/bagqueue/internal/netx"
	"github.com/dmitrijs2005/bagqueue/internal/server/models"
)

// putObject is a seam for tests.
var putObject = netx.UploadToPresignedURL

type localFile struct {
	path string
	md5  string
	size int64
}

// Upload registers paths with missionID, streams each one to its presigned
// target and confirms it. A failed transfer is confirmed as unsuccessful so
// the server cancels the file.
func (a *App) Upload(ctx context.Context, missionID string, paths []string) ([]models.TransitionOutcome, error) {
	files := make([]localFile, 0, len(paths))
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		sum, size, err := filex.FileMD5(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		files = append(files, localFile{path: p, md5: sum, size: size})
		names = append(names, filepath.Base(p))
	}

	callCtx, cancel := a.callContext(ctx)
	created, err := a.queue.CreateUploads(callCtx, &api.CreateUploadsRequest{MissionID: missionID, Filenames: names})
	cancel()
	if err != nil {
		return nil, err
	}
	if len(created.Targets) != len(files) {
		return nil, fmt.Errorf("server returned %d targets for %d files", len(created.Targets), len(files))
	}

	outcomes := make([]models.TransitionOutcome, 0, len(files))
	for i, target := range created.Targets {
		transferErr := a.transfer(ctx, target.URL, files[i])
		if transferErr != nil {
			fmt.Fprintf(os.Stderr, "upload of %s failed: %v\n", files[i].path, transferErr)
		}

		callCtx, cancel := a.callContext(ctx)
		out, err := a.queue.ConfirmUpload(callCtx, &api.ConfirmUploadRequest{
			FileID:  target.FileID,
			Success: transferErr == nil,
			MD5:     files[i].md5,
		})
		cancel()
		if err != nil {
			return outcomes, fmt.Errorf("confirm %s: %w", files[i].path, err)
		}
		outcomes = append(outcomes, *out)
	}
	return outcomes, nil
}

func (a *App) transfer(ctx context.Context, url string, lf localFile) error {
	f, err := os.Open(lf.path)
	if err != nil {
		return err
	}
	defer f.Close()
	return putObject(ctx, url, f, lf.size)
}
