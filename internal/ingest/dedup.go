// Package ingest はニュース取り込みパイプラインの中核を提供する。
// ソースの並行取得、重複排除、canonical URLをキーにしたUPSERT、実行記録を含む。
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/hitoshi/techfeed/internal/model"
)

// Deduplicate は先に出現した記事を優先して重複を取り除く。
// canonical URLが既出、または正規化したタイトルのハッシュが既出の記事を重複とみなす。
// 入力の順序は保たれ、出力に再適用しても結果は変わらない。
func Deduplicate(candidates []model.Article) []model.Article {
	seenURLs := make(map[string]struct{}, len(candidates))
	seenTitles := make(map[string]struct{}, len(candidates))
	unique := make([]model.Article, 0, len(candidates))

	for _, a := range candidates {
		url := strings.TrimSpace(a.CanonicalURL)
		hash := titleHash(a.Title)

		if url != "" {
			if _, ok := seenURLs[url]; ok {
				continue
			}
		}
		if _, ok := seenTitles[hash]; ok {
			continue
		}

		if url != "" {
			seenURLs[url] = struct{}{}
		}
		seenTitles[hash] = struct{}{}
		unique = append(unique, a)
	}
	return unique
}

// titleHash は小文字化し空白を1つにまとめたタイトルのSHA-256を返す。
func titleHash(title string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(title)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
