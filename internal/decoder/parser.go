package decoder

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/UTBM-Alison/vital-connect/internal/models"

	"github.com/dlclark/regexp2"
	"go.uber.org/zap"
)

// ErrParse JSON 解析失败
var ErrParse = errors.New("data processing failed")

type rewriteRule struct {
	pattern     *regexp2.Regexp
	replacement string
}

// ECMAScript 模式下 \w \d \s 只匹配 ASCII
const asciiClasses = regexp2.ECMAScript

// 清洗规则，严格按顺序执行
var sanitizeRules = []rewriteRule{
	// 控制字符 0x00-0x1F, 0x7F
	{regexp2.MustCompile(`[\x00-\x1F\x7F]`, asciiClasses), ""},
	// NaN / Infinity（可带符号，不区分大小写，且不与其他单词字符相邻）
	{regexp2.MustCompile(`(?<!\w)[+\-]?nan(?!\w)`, regexp2.IgnoreCase|asciiClasses), "null"},
	{regexp2.MustCompile(`(?<!\w)[+\-]?(?:inf|infinity)(?!\w)`, regexp2.IgnoreCase|asciiClasses), "null"},
	// 对象值中的逗号小数："key": 123,456
	{regexp2.MustCompile(`(":\s*-?\d+),(\d+)`, asciiClasses), "$1.$2"},
	// 数组或逗号后的逗号小数：[123,456] / ,123,456,
	{regexp2.MustCompile(`(\[|,\s*)(-?\d+),(\d+)(?=[,\]])`, asciiClasses), "$1$2.$3"},
}

// Parser 将解压后的字节清洗并解析为 RawTelemetry
type Parser struct {
	logger *zap.Logger
}

// NewParser 创建解析器
func NewParser(logger *zap.Logger) *Parser {
	return &Parser{logger: logger}
}

// Sanitize 修复设备常见的 JSON 格式问题
// 逗号小数规则无法区分 "123,456" 是小数还是两个整数，始终按小数处理
func Sanitize(text string) (string, error) {
	var err error
	for _, rule := range sanitizeRules {
		text, err = rule.pattern.Replace(text, rule.replacement, -1, -1)
		if err != nil {
			return "", err
		}
	}
	return text, nil
}

// Parse 清洗并解析 JSON，未知字段忽略，失败时返回包装了原始信息的 ErrParse
func (p *Parser) Parse(data []byte) (*models.RawTelemetry, error) {
	cleaned, err := Sanitize(string(data))
	if err != nil {
		return nil, fmt.Errorf("%w: sanitize: %v", ErrParse, err)
	}

	var raw models.RawTelemetry
	dec := json.NewDecoder(bytes.NewReader([]byte(cleaned)))
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	p.logger.Debug("Data parsed successfully",
		zap.Int("rooms", len(raw.Rooms)),
		zap.Bool("has_vrcode", raw.VRCode.Valid),
	)
	return &raw, nil
}
