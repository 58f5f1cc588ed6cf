package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/hitoshi/giftshare/internal/blob"
	"github.com/hitoshi/giftshare/internal/config"
	"github.com/hitoshi/giftshare/internal/database"
	"github.com/hitoshi/giftshare/internal/repository"
)

// DB起動待ちの再試行設定
const (
	dbReadyAttempts = 10
	dbReadyInterval = 2 * time.Second
)

// stores は設定されたバックエンドから生成した永続化層をまとめたもの。
// PostgreSQLを使用しない構成ではdbはnil。
type stores struct {
	db     *sql.DB
	ledger repository.LedgerStore
	heads  repository.HeadStore
	blobs  blob.Store
}

// Close はDB接続を閉じる。
func (s *stores) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// openStores はConfigのバックエンド指定に従ってストアを初期化する。
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	st := &stores{}

	// 1. DB接続（いずれかのストアがPostgreSQLの場合のみ）
	if cfg.UsesPostgres() {
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := database.WaitReady(ctx, db, dbReadyAttempts, dbReadyInterval); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("database connection established")
		st.db = db
	}

	// 2. AWSクライアント（DynamoDBまたはS3を使用する場合のみ）
	var dynamoClient *dynamodb.Client
	var s3Client *s3.Client
	if cfg.HeadBackend == config.BackendDynamoDB || cfg.BlobBackend == config.BackendS3 {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		dynamoClient = dynamodb.NewFromConfig(awsCfg)
		s3Client = s3.NewFromConfig(awsCfg)
	}

	// 3. 台帳
	switch cfg.LedgerBackend {
	case config.BackendPostgres:
		st.ledger = repository.NewPostgresLedgerRepo(st.db)
	default:
		st.ledger = repository.NewMemoryLedgerRepo()
	}

	// 4. メタデータヘッド
	switch cfg.HeadBackend {
	case config.BackendPostgres:
		st.heads = repository.NewPostgresHeadRepo(st.db)
	case config.BackendDynamoDB:
		st.heads = repository.NewDynamoHeadRepo(dynamoClient, cfg.DynamoDBHeadTable)
	default:
		st.heads = repository.NewMemoryHeadRepo()
	}

	// 5. ブロブ
	switch cfg.BlobBackend {
	case config.BackendPostgres:
		st.blobs = blob.NewPostgresStore(st.db)
	case config.BackendS3:
		st.blobs = blob.NewS3Store(s3Client, cfg.S3BucketName, cfg.S3KeyPrefix)
	default:
		st.blobs = blob.NewMemoryStore()
	}

	return st, nil
}
