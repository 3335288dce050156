package chartview

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"math"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/gofiber/fiber/v2"

	"qxtrader/indicator"
	"qxtrader/model"
	fiberhelpers "qxtrader/utils/fiberhelper"
	"qxtrader/utils/fiberhelper/middleware"
	"qxtrader/utils/fiberhelper/response"
	"qxtrader/utils/log"
)

const timeLayout = "01/02 15:04:05"

type Server struct {
	app           *fiber.App
	store         *ChartDataStore
	defaultAsset  string
	defaultPeriod int64
}

func NewServer(store *ChartDataStore, defaultAsset string, defaultPeriod int64) *Server {
	s := &Server{
		app:           fiberhelpers.NewApp(),
		store:         store,
		defaultAsset:  defaultAsset,
		defaultPeriod: defaultPeriod,
	}
	s.app.Use(middleware.LogMiddleware("/favicon.ico"))
	s.app.Get("/", s.index)
	s.app.Get("/chart", s.chart)
	s.app.Get("/api/streams", s.streams)
	s.app.Get("/api/candles", s.candles)
	return s
}

func (s *Server) App() *fiber.App {
	return s.app
}

// Start ctx 가 끝날 때까지 서빙한다
func (s *Server) Start(ctx context.Context, addr string) error {
	log.Infof("[CHART] open http://localhost%s/chart to see the chart", addr)
	return fiberhelpers.ListenWithGraceFullyShutdown(ctx, s.app, addr)
}

func (s *Server) query(c *fiber.Ctx) (string, int64, error) {
	asset := c.Query("asset", s.defaultAsset)
	period := int64(c.QueryInt("period", int(s.defaultPeriod)))
	if asset == "" || period <= 0 {
		return "", 0, fiber.NewError(fiber.StatusBadRequest, "asset and a positive period are required")
	}
	return asset, period, nil
}

func (s *Server) index(c *fiber.Ctx) error {
	var b strings.Builder
	b.WriteString("<html><body><h2>qxtrader chart</h2><ul>")
	for _, st := range s.store.Streams() {
		fmt.Fprintf(&b, `<li><a href="/chart?asset=%s&period=%d">%s %ds</a></li>`,
			html.EscapeString(st.Asset), st.Period, html.EscapeString(st.Asset), st.Period)
	}
	b.WriteString("</ul></body></html>")
	c.Type("html")
	return c.SendString(b.String())
}

func (s *Server) streams(c *fiber.Ctx) error {
	return response.Ext{Ctx: c}.Ok(s.store.Streams())
}

func (s *Server) candles(c *fiber.Ctx) error {
	asset, period, err := s.query(c)
	if err != nil {
		return err
	}
	candles := s.store.GetCandles(asset, period)
	if candles == nil {
		candles = []model.Candle{}
	}
	return response.Ext{Ctx: c}.Ok(candles)
}

func (s *Server) chart(c *fiber.Ctx) error {
	asset, period, err := s.query(c)
	if err != nil {
		return err
	}
	candles := s.store.GetCandles(asset, period)
	indicators := s.store.GetIndicators(asset, period, candles)

	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("%s %ds", asset, period)
	page.AddCharts(buildCandleChart(asset, candles, indicators))
	for _, ci := range indicators {
		if !ci.Overlay {
			page.AddCharts(buildIndicatorChart(candles, ci))
		}
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return err
	}
	c.Type("html")
	return c.Send(buf.Bytes())
}

func timeAxis(candles []model.Candle) []string {
	out := make([]string, len(candles))
	for i, c := range candles {
		out[i] = c.OpenTime().UTC().Format(timeLayout)
	}
	return out
}

// buildCandleChart 봉차트 + overlay 지표
func buildCandleChart(asset string, candles []model.Candle, indicators []indicator.ChartIndicator) *charts.Kline {
	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: asset, Show: opts.Bool(true)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside", Start: 50, End: 100}),
	)
	if len(candles) == 0 {
		return kline
	}

	// go-echarts Kline은 [open, close, low, high] 순서
	kValues := make([]opts.KlineData, len(candles))
	for i, c := range candles {
		kValues[i] = opts.KlineData{Value: [4]float64{c.Open, c.Close, c.Low, c.High}}
	}
	xVals := timeAxis(candles)
	kline.SetXAxis(xVals).
		AddSeries("KLine", kValues).
		SetSeriesOptions(charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        "#00da3c",
			Color0:       "#ec0000",
			BorderColor:  "#008F28",
			BorderColor0: "#8A0000",
		}))

	for _, ci := range indicators {
		if ci.Overlay {
			kline.Overlap(metricLines(xVals, ci))
		}
	}
	return kline
}

func buildIndicatorChart(candles []model.Candle, ci indicator.ChartIndicator) *charts.Line {
	line := metricLines(timeAxis(candles), ci)
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: ci.GroupName, Show: opts.Bool(true)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
	)
	return line
}

func metricLines(xVals []string, ci indicator.ChartIndicator) *charts.Line {
	line := charts.NewLine()
	line.SetXAxis(xVals)
	for _, metric := range ci.Metrics {
		data := make([]opts.LineData, len(metric.Values))
		for i, v := range metric.Values {
			data[i] = opts.LineData{Value: chartValue(v)}
		}
		line.AddSeries(metric.Name, data,
			charts.WithItemStyleOpts(opts.ItemStyle{Color: metric.Color}),
			charts.WithLineChartOpts(opts.LineChart{
				ConnectNulls: opts.Bool(true),
				ShowSymbol:   opts.Bool(metric.Style == indicator.StyleScatter),
			}),
		)
	}
	return line
}

// chartValue 워밍업(0)과 NaN 은 빈 값("-")으로
func chartValue(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) || v == 0 {
		return "-"
	}
	return v
}
