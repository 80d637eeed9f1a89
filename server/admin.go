package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
)

// Admin 管理与监控接口
type Admin struct {
	rooms *RoomManager
}

func NewAdmin(rooms *RoomManager) *Admin {
	return &Admin{rooms: rooms}
}

// Register 挂载路由
func (a *Admin) Register(router *httprouter.Router) {
	router.GET("/healthz", a.HandleHealth)
	router.GET("/metrics", a.HandleMetrics)
	router.GET("/admin/rooms", a.HandleRooms)
	router.GET("/admin/rooms/:id", a.HandleRoom)
	router.GET("/admin/config", a.HandleConfig)
	router.POST("/admin/config", a.HandleConfig)
}

func (a *Admin) HandleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	_, _ = w.Write([]byte("ok"))
}

// HandleMetrics 输出运行指标
// GET /metrics
func (a *Admin) HandleMetrics(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]any{
		"rooms":   len(a.rooms.Rooms()),
		"metrics": a.rooms.Metrics().Snapshot(),
	})
}

// HandleRooms GET /admin/rooms
func (a *Admin) HandleRooms(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, a.rooms.Rooms())
}

// HandleRoom GET /admin/rooms/:id
func (a *Admin) HandleRoom(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	info, ok := a.rooms.Room(ps.ByName("id"))
	if !ok {
		http.Error(w, "no such room", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// HandleConfig 轮次时长的读取与热更新，对之后开始的轮次生效
// GET /admin/config           返回当前配置
// POST /admin/config          以 JSON 载荷更新部分字段
func (a *Admin) HandleConfig(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	type cfg struct {
		RoundTimeoutSec *int `json:"roundTimeoutSec,omitempty"`
		RoundPauseSec   *int `json:"roundPauseSec,omitempty"`
	}

	switch r.Method {
	case http.MethodGet:
		timeout, pause := a.rooms.RoundTiming()
		t, p := int(timeout/time.Second), int(pause/time.Second)
		writeJSON(w, http.StatusOK, cfg{RoundTimeoutSec: &t, RoundPauseSec: &p})
	case http.MethodPost:
		var body cfg
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		// 缺省字段不修改；超时须为正，停顿可以为 0
		timeout, pause := time.Duration(0), time.Duration(-1)
		if body.RoundTimeoutSec != nil {
			if *body.RoundTimeoutSec <= 0 {
				http.Error(w, "roundTimeoutSec must be positive", http.StatusBadRequest)
				return
			}
			timeout = time.Duration(*body.RoundTimeoutSec) * time.Second
		}
		if body.RoundPauseSec != nil {
			if *body.RoundPauseSec < 0 {
				http.Error(w, "roundPauseSec must not be negative", http.StatusBadRequest)
				return
			}
			pause = time.Duration(*body.RoundPauseSec) * time.Second
		}
		a.rooms.SetRoundTiming(timeout, pause)
		timeout, pause = a.rooms.RoundTiming()
		Log.Infof("config updated: roundTimeout=%s roundPause=%s", timeout, pause)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
