// Package tagging はタイトルと本文からキーワードベースでトピックタグを付与する。
package tagging

import (
	"sort"
	"strings"
)

// keywordTags はタグとそのタグを付与するキーワードの対応表。
// キーワードは小文字化したテキストに対する部分一致で判定する。
var keywordTags = map[string][]string{
	"ai":          {"ai", "artificial intelligence", "machine learning", "ml", "deep learning", "neural network", "chatgpt", "openai"},
	"web":         {"web development", "frontend", "backend", "full stack", "html", "css", "javascript", "react", "vue", "angular"},
	"mobile":      {"mobile", "ios", "android", "react native", "flutter", "swift", "kotlin"},
	"cloud":       {"cloud", "aws", "azure", "google cloud", "docker", "kubernetes", "serverless"},
	"programming": {"programming", "coding", "software development", "python", "java", "c++", "golang"},
	"data":        {"data science", "big data", "analytics", "database", "sql", "mongodb", "postgresql"},
	"security":    {"security", "cybersecurity", "encryption", "privacy", "blockchain", "cryptocurrency"},
	"startup":     {"startup", "entrepreneur", "funding", "venture capital", "ipo", "acquisition"},
	"devops":      {"devops", "ci/cd", "automation", "deployment", "infrastructure", "monitoring"},
	"tutorial":    {"tutorial", "guide", "how to"},
	"news":        {"news", "announcement", "releases"},
	"review":      {"review", "comparison"},
}

// Extract はタイトルと説明文から該当するタグを重複なしの昇順で返す。
// 入力が同じなら常に同じ結果を返す。
func Extract(title, description string) []string {
	text := strings.ToLower(title + " " + description)

	var tags []string
	for tag, keywords := range keywordTags {
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				tags = append(tags, tag)
				break
			}
		}
	}
	sort.Strings(tags)
	return tags
}

// Normalize はタグを小文字化、前後空白除去し、空要素と重複を取り除いて昇順で返す。
func Normalize(tags ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range tags {
		for _, t := range list {
			t = strings.ToLower(strings.TrimSpace(t))
			if t == "" {
				continue
			}
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}
