package model

import "time"

// GiftOwnership はギフトと所有者の紐付けを表す。
// ギフト作成時に一度だけ設定され、所有権移転操作でのみ変更される。
type GiftOwnership struct {
	GiftID    string
	Owner     Address
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Photo はギフトに含まれる写真を表す。
// 画像本体はコンテンツアドレス型ストレージに保存され、ContentIDで参照される。
type Photo struct {
	ContentID string `json:"content_id"`
	Caption   string `json:"caption"`
}

// GiftMetadata はギフトのバージョン付きJSONドキュメント。
// Versionは1から始まる単調増加の整数で、楽観的排他制御に使用する。
type GiftMetadata struct {
	GiftID         string    `json:"gift_id"`
	Version        int64     `json:"version"`
	LastModified   time.Time `json:"last_modified"`
	LastModifiedBy Address   `json:"last_modified_by"`

	Title     string  `json:"title"`
	Message   string  `json:"message"`
	Theme     string  `json:"theme"`
	Recipient string  `json:"recipient"`
	Photos    []Photo `json:"photos"`
}

// Clone はメタデータのディープコピーを返す。
// ミューテータに渡す前にコピーすることで、失敗時に元のドキュメントが変更されないようにする。
func (m *GiftMetadata) Clone() *GiftMetadata {
	c := *m
	if m.Photos != nil {
		c.Photos = make([]Photo, len(m.Photos))
		copy(c.Photos, m.Photos)
	}
	return &c
}
