package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/go-sales-orders/internal/redisx"
	"github.com/ariefcatur/go-sales-orders/internal/reports"
	"github.com/go-chi/chi/v5"
)

type ReportsHandler struct {
	Reporter *reports.Reporter
	Cache    *redisx.Cache
	Now      func() time.Time
}

type SummaryResp struct {
	OrderCount    int    `json:"order_count"`
	Revenue       string `json:"revenue"`
	AvgOrderValue string `json:"avg_order_value"`
}

type ProductSalesResp struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Units     int    `json:"units"`
	Revenue   string `json:"revenue"`
}

type SalesReportResp struct {
	Period      string             `json:"period"`
	Month       int                `json:"month"`
	Year        int                `json:"year"`
	Summary     SummaryResp        `json:"summary"`
	TopProducts []ProductSalesResp `json:"top_products"`
}

func (h *ReportsHandler) Register(r chi.Router) {
	r.Get("/reports/sales", h.salesReport)
}

func (h *ReportsHandler) salesReport(w http.ResponseWriter, r *http.Request) {
	now := h.now().In(h.Reporter.Loc())
	month, err := intParam(r, "month", int(now.Month()))
	if err != nil {
		writeError(w, http.StatusBadRequest, "month must be an integer")
		return
	}
	year, err := intParam(r, "year", now.Year())
	if err != nil {
		writeError(w, http.StatusBadRequest, "year must be an integer")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// 1) coba cache
	if b, ok, err := h.Cache.GetSalesReport(ctx, year, month); err == nil && ok {
		w.Header().Set("X-Cache", "HIT")
		writeRaw(w, http.StatusOK, b)
		return
	}

	// 2) hitung dari DB; generasi dibaca sebelum query supaya laporan basi tidak ikut di-cache
	gen, genErr := h.Cache.SalesReportGen(ctx, year, month)
	if genErr != nil {
		log.Printf("read sales report generation %d-%02d: %v", year, month, genErr)
	}
	rep, err := h.Reporter.SalesReport(ctx, month, year)
	if errors.Is(err, reports.ErrInvalidPeriod) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	body, _ := json.Marshal(toSalesReportResp(rep))
	if genErr == nil {
		err := h.Cache.SetSalesReport(ctx, year, month, gen, body)
		if err != nil && !errors.Is(err, redisx.ErrStaleReport) {
			log.Printf("cache sales report %d-%02d: %v", year, month, err)
		}
	}
	w.Header().Set("X-Cache", "MISS")
	writeRaw(w, http.StatusOK, body)
}

func toSalesReportResp(s reports.Sales) SalesReportResp {
	out := SalesReportResp{
		Period: s.Period(),
		Month:  s.Month,
		Year:   s.Year,
		Summary: SummaryResp{
			OrderCount:    s.OrderCount,
			Revenue:       s.Revenue.StringFixed(2),
			AvgOrderValue: s.AvgOrderValue.StringFixed(2),
		},
		TopProducts: make([]ProductSalesResp, 0, len(s.TopProducts)),
	}
	for _, p := range s.TopProducts {
		out.TopProducts = append(out.TopProducts, ProductSalesResp{
			ProductID: p.ProductID,
			Name:      p.Name,
			Units:     p.Units,
			Revenue:   p.Revenue.StringFixed(2),
		})
	}
	return out
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func (h *ReportsHandler) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}
