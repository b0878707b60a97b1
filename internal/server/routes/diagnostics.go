package routes

import (
	"sort"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/proxy2fs/internal/cache"
	"github.com/any-hub/proxy2fs/internal/resolver"
)

const (
	defaultRecordLimit = 50
	maxRecordLimit     = 1000
)

// WriteStatus 是诊断接口读取的写入协调器视图，*cache.Coordinator 直接满足。
type WriteStatus interface {
	Stats() cache.Stats
	Pending() []cache.WriteRecord
	History(limit int) []cache.WriteRecord
	Policy() cache.BusyPolicy
}

// RegisterDiagnosticsRoutes 暴露 /-/stats 与 /-/records，供运维查询镜像写入状态。
func RegisterDiagnosticsRoutes(app *fiber.App, status WriteStatus) {
	if app == nil || status == nil {
		return
	}

	app.Get("/-/stats", func(c fiber.Ctx) error {
		return c.JSON(statsPayload{
			Policy: string(status.Policy()),
			Stats:  status.Stats(),
		})
	})

	app.Get("/-/records", func(c fiber.Ctx) error {
		limit, err := parseLimit(c.Query("limit"))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_limit"})
		}
		pending := status.Pending()
		sort.Slice(pending, func(i, j int) bool {
			return pending[i].StartedAt.Before(pending[j].StartedAt)
		})
		return c.JSON(recordsPayload{
			Pending: pending,
			Recent:  status.History(limit),
		})
	})
}

// RegisterExtensionRoutes 暴露 /-/extensions，列出当前生效的 mime → 扩展名表。
func RegisterExtensionRoutes(app *fiber.App, table *resolver.ExtensionTable) {
	if app == nil || table == nil {
		return
	}

	app.Get("/-/extensions", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"extensions": encodeExtensions(table)})
	})
}

type statsPayload struct {
	Policy string `json:"busy_policy"`
	cache.Stats
}

type recordsPayload struct {
	Pending []cache.WriteRecord `json:"pending"`
	Recent  []cache.WriteRecord `json:"recent"`
}

type extensionPayload struct {
	MimeType string `json:"mime_type"`
	Ext      string `json:"ext"`
}

func encodeExtensions(table *resolver.ExtensionTable) []extensionPayload {
	mimes := table.Mimes()
	result := make([]extensionPayload, 0, len(mimes))
	for _, mime := range mimes {
		ext, ok := table.Lookup(mime)
		if !ok {
			continue
		}
		result = append(result, extensionPayload{MimeType: mime, Ext: ext})
	}
	return result
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultRecordLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, strconv.ErrSyntax
	}
	if limit > maxRecordLimit {
		limit = maxRecordLimit
	}
	return limit, nil
}
