package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API はS3Storeが使用するS3クライアントの部分集合。
// *s3.Client がこのインターフェースを満たす。
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store はAmazon S3を使用したStore実装。
// オブジェクトキーは "<prefix>blobs/<contentID>"。
type S3Store struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Store はS3Storeを生成する。prefixは空でもよい。
func NewS3Store(client S3API, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Store) key(contentID string) string {
	return s.prefix + "blobs/" + contentID
}

// Put はdataをS3へ保存しContentIDを返す。
// キーが内容から決まるため、同じ内容を再度Putしても同じオブジェクトが上書きされるだけで済む。
func (s *S3Store) Put(ctx context.Context, data []byte) (string, error) {
	cid := ContentID(data)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(cid)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("ブロブの保存に失敗しました: %w", err)
	}
	return cid, nil
}

// Get はContentIDに対応するブロブを取得する。
// 存在しない場合はErrNotFoundを返す。取得した内容がContentIDと一致しない場合はエラーを返す。
func (s *S3Store) Get(ctx context.Context, contentID string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(contentID)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ブロブの取得に失敗しました: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("ブロブの読み込みに失敗しました: %w", err)
	}
	if err := verify(contentID, data); err != nil {
		return nil, fmt.Errorf("%s: %w", contentID, err)
	}
	return data, nil
}

var _ Store = (*S3Store)(nil)
