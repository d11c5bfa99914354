package store

import (
	"context"
	"fmt"
)

const assetColumns = `id, doc_id, object_key, filename, content_type, size_bytes, uploaded_by, created_at`

func (s *PostgresStore) InsertAsset(ctx context.Context, asset Asset) (Asset, error) {
	var created Asset
	err := s.db.GetContext(ctx, &created, `
		INSERT INTO assets (id, doc_id, object_key, filename, content_type, size_bytes, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+assetColumns,
		asset.ID, asset.DocID, asset.ObjectKey, asset.Filename, asset.ContentType, asset.SizeBytes, asset.UploadedBy,
	)
	if err != nil {
		return Asset{}, fmt.Errorf("insert asset: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) ListAssets(ctx context.Context, docID string) ([]Asset, error) {
	assets := make([]Asset, 0)
	err := s.db.SelectContext(ctx, &assets, `SELECT `+assetColumns+` FROM assets WHERE doc_id=$1 ORDER BY created_at DESC`, docID)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	return assets, nil
}

func (s *PostgresStore) GetAsset(ctx context.Context, docID, assetID string) (Asset, error) {
	var asset Asset
	err := s.db.GetContext(ctx, &asset, `SELECT `+assetColumns+` FROM assets WHERE doc_id=$1 AND id=$2`, docID, assetID)
	if err != nil {
		return Asset{}, notFound(err)
	}
	return asset, nil
}

func (s *PostgresStore) DeleteAsset(ctx context.Context, docID, assetID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM assets WHERE doc_id=$1 AND id=$2`, docID, assetID)
	if err != nil {
		return fmt.Errorf("delete asset: %w", err)
	}
	return requireRow(res)
}
