package funnel

import (
	"strings"
	"testing"
	"time"

	"github.com/capitalize-ai/messenger-pipeline/internal/catalog"
	"github.com/capitalize-ai/messenger-pipeline/internal/model"
)

func price(v float64) *float64 { return &v }

func TestRenderOrderSheetTotal(t *testing.T) {
	tenant := catalog.Tenant{Name: "متجر", Currency: "جنيه"}
	sess := model.NewSession("acme", "psid", "trace", time.Now())
	sess.Capture(model.FieldName, "محمد")
	sess.Capture(model.FieldContact, "01012345678")
	product := &catalog.Product{Name: "تيشيرت", Price: price(299)}

	sheet := RenderOrderSheet(tenant, sess, product, price(70))
	if !strings.Contains(sheet, "الإجمالي: 369 جنيه") {
		t.Fatalf("expected total 369 جنيه, got:\n%s", sheet)
	}
	if !strings.Contains(sheet, "المقاس: -") || !strings.Contains(sheet, "العنوان: -") {
		t.Fatalf("unknown fields should render as -:\n%s", sheet)
	}
	if !strings.Contains(sheet, "الاسم: محمد") || !strings.Contains(sheet, "المنتج: تيشيرت") {
		t.Fatalf("known fields missing:\n%s", sheet)
	}
}

func TestRenderOrderSheetUnknownTotal(t *testing.T) {
	tenant := catalog.Tenant{Name: "متجر", Currency: "جنيه"}
	sess := model.NewSession("acme", "psid", "trace", time.Now())
	sess.Capture(model.FieldService, "هودي")

	cases := []struct {
		name     string
		product  *catalog.Product
		shipping *float64
	}{
		{"missing shipping", &catalog.Product{Name: "هودي", Price: price(450)}, nil},
		{"missing price", &catalog.Product{Name: "هودي"}, price(70)},
		{"missing product", nil, price(70)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sheet := RenderOrderSheet(tenant, sess, tc.product, tc.shipping)
			if !strings.Contains(sheet, "الإجمالي: غير محدد") {
				t.Fatalf("expected unknown total:\n%s", sheet)
			}
			if strings.Contains(sheet, "NaN") {
				t.Fatalf("sheet must never contain NaN:\n%s", sheet)
			}
			if !strings.Contains(sheet, "المنتج: هودي") {
				t.Fatalf("product should fall back to service:\n%s", sheet)
			}
		})
	}
}
