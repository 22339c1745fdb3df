package storage

import (
	"context"
	"slices"

	"github.com/bsv-blockchain/blobstore/errors"
	"github.com/bsv-blockchain/blobstore/model"
)

// addBlob records a blob written to the object store. Imports are resolved to ids with one
// batched lookup of their base paths.
func (s *Server) addBlob(ctx context.Context, namespaceID string, locator model.Locator, imports []model.Locator) (*model.BlobInfo, error) {
	info := &model.BlobInfo{
		ID:          model.NewBlobID(s.now()),
		NamespaceID: namespaceID,
		Path:        locator.BaseLocator(),
	}

	if len(imports) > 0 {
		paths := make([]string, 0, len(imports))
		seen := make(map[string]struct{}, len(imports))

		for _, imported := range imports {
			path := imported.BaseLocator()
			if _, ok := seen[path]; ok {
				continue
			}

			seen[path] = struct{}{}
			paths = append(paths, path)
		}

		ids, err := s.metaStore.FindBlobIDs(ctx, namespaceID, paths)
		if err != nil {
			return nil, errors.NewStorageError("[%s] failed to resolve imports of %s", namespaceID, locator, err)
		}

		if len(ids) < len(paths) {
			s.logger.Debugf("[Storage][%s] %d of %d imports of %s are unknown", namespaceID, len(paths)-len(ids), len(paths), locator)
		}

		info.Imports = make([]model.BlobID, 0, len(ids))
		for _, id := range ids {
			info.Imports = append(info.Imports, id)
		}

		slices.SortFunc(info.Imports, func(a, b model.BlobID) int {
			return a.Compare(b)
		})
	}

	if err := s.metaStore.AddBlob(ctx, info); err != nil {
		return nil, err
	}

	s.logger.Debugf("[Storage][%s] created blob %s at %s (%d imports)", namespaceID, info.ID, info.Path, len(info.Imports))

	return info, nil
}
