package retrieval

import (
	"fmt"
	"strings"

	"brazier/knowledge"
)

// blockDelimiter separates context blocks in the assembled prompt.
const blockDelimiter = "\n\n---\n\n"

// EmptyContextMarker is what the model sees when no block survived assembly,
// so it can state that the knowledge base has nothing relevant.
const EmptyContextMarker = "未在知识库中找到相关信息。"

// attributeNames maps stored attribute keys to their display names. Unknown
// keys render as-is.
var attributeNames = map[string]string{
	"further_study_rate":        "升学率",
	"further_study_destination": "升学去向",
	"employment_rate":           "就业率",
	"employment_destination":    "就业去向",
	"recommendations":           "建议",
}

// BuildContext assembles the knowledge-base context string handed to answer
// generation. Verified structured blocks come first so the model prioritizes
// them, then the fused unstructured units in rank order.
func BuildContext(result Result) string {
	var blocks []string
	for _, track := range result.Structured {
		if block := renderTrack(track); block != "" {
			blocks = append(blocks, "[来源: 核心数据库]\n"+block)
		}
	}
	for _, unit := range result.Units {
		blocks = append(blocks, fmt.Sprintf("[分类: %s] [重要性: %s]\n%s", unit.Category, unit.Importance, unit.Content))
	}

	if len(blocks) == 0 {
		return EmptyContextMarker
	}
	return strings.Join(blocks, blockDelimiter)
}

func renderTrack(track knowledge.AcademicTrack) string {
	if len(track.Attributes) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "关于“%s - %s”的已核验信息：\n", track.SchoolName, track.MajorName)
	for _, attr := range track.Attributes {
		name := attributeNames[attr.AttributeName]
		if name == "" {
			name = attr.AttributeName
		}
		if attr.Year != nil {
			fmt.Fprintf(&b, "  - %s (%d): %s\n", name, *attr.Year, attr.AttributeValue)
		} else {
			fmt.Fprintf(&b, "  - %s: %s\n", name, attr.AttributeValue)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
