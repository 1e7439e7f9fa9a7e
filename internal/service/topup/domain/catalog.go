package domain

import (
	"strings"

	"github.com/pkg/errors"
)

// CatalogEntry 是某个面额的售价和供应商 SKU，SKU 为空表示暂不可履约
type CatalogEntry struct {
	Price int64
	SKU   string
}

// Catalog 是静态的价格表、SKU 映射和支付方式白名单
type Catalog struct {
	products map[string]map[string]CatalogEntry
	methods  map[string]struct{}
}

func NewCatalog(products map[string]map[string]CatalogEntry, methods []string) *Catalog {
	c := &Catalog{
		products: make(map[string]map[string]CatalogEntry, len(products)),
		methods:  make(map[string]struct{}, len(methods)),
	}
	for provider, denoms := range products {
		p := strings.ToLower(strings.TrimSpace(provider))
		if c.products[p] == nil {
			c.products[p] = make(map[string]CatalogEntry, len(denoms))
		}
		for denom, entry := range denoms {
			c.products[p][strings.ToLower(strings.TrimSpace(denom))] = entry
		}
	}
	for _, m := range methods {
		c.methods[normalizeMethod(m)] = struct{}{}
	}
	return c
}

// Method 校验并归一化支付方式
func (c *Catalog) Method(method string) (string, error) {
	m := normalizeMethod(method)
	if _, ok := c.methods[m]; !ok || m == "" {
		return "", errors.Wrapf(ErrUnsupportedMethod, "method %q", method)
	}
	return m, nil
}

// Price 查找售价；运营商未知返回 ErrUnknownProduct，面额未上架返回 ErrUnavailableDenomination
func (c *Catalog) Price(key ProductKey) (int64, error) {
	denoms, ok := c.products[key.Provider]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownProduct, "provider %q", key.Provider)
	}
	entry, ok := denoms[key.Denomination]
	if !ok {
		return 0, errors.Wrapf(ErrUnavailableDenomination, "%s %s", key.Provider, key.Denomination)
	}
	return entry.Price, nil
}

// SKU 解析供应商侧的商品编码
func (c *Catalog) SKU(key ProductKey) (string, bool) {
	entry, ok := c.products[key.Provider][key.Denomination]
	if !ok || entry.SKU == "" {
		return "", false
	}
	return entry.SKU, true
}

func normalizeMethod(m string) string {
	return strings.ToUpper(strings.TrimSpace(m))
}
