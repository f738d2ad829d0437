package tencent

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/regions"
	tmt "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/tmt/v20180321"
)

// 单次批量请求的字符上限（接口限制 2000，留出余量）
const maxBatchChars = 1500

type TencentClient interface {
	// TranslateBatch 翻译一组文本到 target，target 为空时中文译英文、其他译中文。
	// 返回译文（与输入一一对应）和实际使用的目标语言。
	TranslateBatch(ctx context.Context, texts []string, target string) ([]string, string, error)
}

type TencentClientImpl struct {
	tmtClient *tmt.Client
	projectID int64
}

func NewClient(secretID, secretKey, region string) (*TencentClientImpl, error) {
	credential := common.NewCredential(
		secretID, secretKey,
	)

	cpf := profile.NewClientProfile()
	cpf.HttpProfile.ReqMethod = "POST"
	cpf.HttpProfile.ReqTimeout = 10 // 秒
	cpf.HttpProfile.Endpoint = "tmt.tencentcloudapi.com"

	if region == "" {
		region = regions.Guangzhou
	}
	tmtClient, err := tmt.NewClient(credential, region, cpf)
	if err != nil {
		log.Error().Err(err).Msg("new tencent client error")
		return nil, err
	}
	return &TencentClientImpl{tmtClient: tmtClient}, nil
}

func (t *TencentClientImpl) detect(ctx context.Context, text string) (string, error) {
	languageRequest := tmt.NewLanguageDetectRequest()
	languageRequest.Text = common.StringPtr(text)
	languageRequest.ProjectId = common.Int64Ptr(t.projectID)
	languageResponse, err := t.tmtClient.LanguageDetectWithContext(ctx, languageRequest)
	if err != nil {
		return "", fmt.Errorf("language detect: %w", err)
	}
	if languageResponse.Response == nil || languageResponse.Response.Lang == nil {
		return "", errors.New("language detect returned no language")
	}
	return *languageResponse.Response.Lang, nil
}

func (t *TencentClientImpl) TranslateBatch(ctx context.Context, texts []string, target string) ([]string, string, error) {
	if len(texts) == 0 {
		return nil, target, nil
	}

	source, err := t.detect(ctx, sample(texts))
	if err != nil {
		return nil, "", err
	}
	if target == "" {
		if source == "zh" {
			target = "en"
		} else {
			target = "zh"
		}
	}
	if source == target {
		return nil, target, fmt.Errorf("text is already in %s", target)
	}

	out := make([]string, 0, len(texts))
	for _, chunk := range chunks(texts, maxBatchChars) {
		request := tmt.NewTextTranslateBatchRequest()
		request.Source = common.StringPtr(source)
		request.Target = common.StringPtr(target)
		request.ProjectId = common.Int64Ptr(t.projectID)
		request.SourceTextList = common.StringPtrs(chunk)

		response, err := t.tmtClient.TextTranslateBatchWithContext(ctx, request)
		if err != nil {
			log.Error().Err(err).Msg("failed to send request")
			return nil, "", fmt.Errorf("translate batch: %w", err)
		}
		if response.Response == nil || len(response.Response.TargetTextList) != len(chunk) {
			return nil, "", errors.New("translate batch returned a mismatched result")
		}
		for _, s := range response.Response.TargetTextList {
			if s == nil {
				out = append(out, "")
				continue
			}
			out = append(out, *s)
		}
	}
	return out, target, nil
}

func sample(texts []string) string {
	s := ""
	for _, t := range texts {
		if utf8.RuneCountInString(s) > 200 {
			break
		}
		if t != "" {
			s += t + "\n"
		}
	}
	return s
}

// chunks 按字符数切分批量请求，单条超长文本独占一批
func chunks(texts []string, limit int) [][]string {
	var out [][]string
	var cur []string
	size := 0
	for _, t := range texts {
		n := utf8.RuneCountInString(t)
		if len(cur) > 0 && size+n > limit {
			out = append(out, cur)
			cur, size = nil, 0
		}
		cur = append(cur, t)
		size += n
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}
