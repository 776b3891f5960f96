package evidence

import (
	"strings"
	"unicode"

	"github.com/ipfs/go-cid"

	"fraudguard/internal/errors"
)

// ReferenceValidator 证据引用校验器
type ReferenceValidator interface {
	Validate(ref string) error
	Name() string
}

// NewValidator 按名称创建校验器
func NewValidator(name string) (ReferenceValidator, error) {
	switch name {
	case "cid", "":
		return CIDValidator{}, nil
	case "any":
		return OpaqueValidator{}, nil
	default:
		return nil, errors.Validation("不支持的证据校验器: %s", name)
	}
}

// CIDValidator 要求引用为合法的 IPFS CID（v0 或 v1）
type CIDValidator struct{}

func (CIDValidator) Name() string { return "cid" }

func (CIDValidator) Validate(ref string) error {
	if ref == "" {
		return errors.Validation("证据引用不能为空")
	}
	if _, err := cid.Decode(ref); err != nil {
		return errors.Validation("证据引用不是合法的CID: %v", err).WithContext("reference", ref)
	}
	return nil
}

// OpaqueValidator 只要求引用非空且不含空白字符
type OpaqueValidator struct{}

func (OpaqueValidator) Name() string { return "any" }

func (OpaqueValidator) Validate(ref string) error {
	if ref == "" {
		return errors.Validation("证据引用不能为空")
	}
	if strings.IndexFunc(ref, unicode.IsSpace) >= 0 {
		return errors.Validation("证据引用不能包含空白字符").WithContext("reference", ref)
	}
	return nil
}
