package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDBAPI はDynamoHeadRepoが使用するDynamoDBクライアントの部分集合。
// *dynamodb.Client がこのインターフェースを満たす。
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// dynamoHeadItem はDynamoDBに保存するヘッドレコードの形式。
// パーティションキーは gift_id。
type dynamoHeadItem struct {
	GiftID       string    `dynamodbav:"gift_id"`
	Version      int64     `dynamodbav:"version"`
	ContentID    string    `dynamodbav:"content_id"`
	LastModified time.Time `dynamodbav:"last_modified"`
}

// DynamoHeadRepo はDynamoDBを使用したHeadStore実装。
// 条件付き書き込み（ConditionExpression）でバージョンの比較交換を行う。
type DynamoHeadRepo struct {
	client DynamoDBAPI
	table  string
}

// NewDynamoHeadRepo はDynamoHeadRepoを生成する。
func NewDynamoHeadRepo(client DynamoDBAPI, table string) *DynamoHeadRepo {
	return &DynamoHeadRepo{client: client, table: table}
}

// GetHead は指定ギフトのヘッドを強整合性読み込みで取得する。見つからない場合はnilを返す。
func (r *DynamoHeadRepo) GetHead(ctx context.Context, giftID string) (*MetadataHead, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.table),
		Key: map[string]types.AttributeValue{
			"gift_id": &types.AttributeValueMemberS{Value: giftID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("メタデータヘッドの取得に失敗しました: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}

	var item dynamoHeadItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("メタデータヘッドの変換に失敗しました: %w", err)
	}
	return &MetadataHead{
		GiftID:       item.GiftID,
		Version:      item.Version,
		ContentID:    item.ContentID,
		LastModified: item.LastModified,
	}, nil
}

// CreateHead はヘッドを登録する。既に存在する場合はErrHeadExistsを返す。
func (r *DynamoHeadRepo) CreateHead(ctx context.Context, head *MetadataHead) error {
	av, err := marshalHead(head)
	if err != nil {
		return err
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(gift_id)"),
	})
	if isConditionalCheckFailed(err) {
		return ErrHeadExists
	}
	if err != nil {
		return fmt.Errorf("メタデータヘッドの作成に失敗しました: %w", err)
	}
	return nil
}

// CompareAndSwapHead は現在のバージョンがexpectedVersionである場合に限りヘッドを置き換える。
func (r *DynamoHeadRepo) CompareAndSwapHead(ctx context.Context, expectedVersion int64, head *MetadataHead) error {
	av, err := marshalHead(head)
	if err != nil {
		return err
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.table),
		Item:                     av,
		ConditionExpression:      aws.String("#v = :expected"),
		ExpressionAttributeNames: map[string]string{"#v": "version"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedVersion, 10)},
		},
	})
	if isConditionalCheckFailed(err) {
		return ErrVersionMismatch
	}
	if err != nil {
		return fmt.Errorf("メタデータヘッドの更新に失敗しました: %w", err)
	}
	return nil
}

func marshalHead(head *MetadataHead) (map[string]types.AttributeValue, error) {
	av, err := attributevalue.MarshalMap(dynamoHeadItem{
		GiftID:       head.GiftID,
		Version:      head.Version,
		ContentID:    head.ContentID,
		LastModified: head.LastModified,
	})
	if err != nil {
		return nil, fmt.Errorf("メタデータヘッドの変換に失敗しました: %w", err)
	}
	return av, nil
}

func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return err != nil && errors.As(err, &ccf)
}

// compile-time interface check
var _ HeadStore = (*DynamoHeadRepo)(nil)
