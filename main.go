package main

import (
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KodaTao/chatweb/auth"
	"github.com/KodaTao/chatweb/config"
	"github.com/KodaTao/chatweb/handler"
	"github.com/KodaTao/chatweb/llm"
	"github.com/KodaTao/chatweb/logger"
	"github.com/KodaTao/chatweb/model"
)

func main() {
	// 加载配置
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	gin.SetMode(cfg.Server.Mode)

	zlog, err := logger.New(cfg.Log, cfg.Server.Mode)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer zlog.Sync()
	zlog.Info("config loaded",
		zap.Int("port", cfg.Server.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("llm_provider", cfg.LLM.Provider))

	// 初始化数据库
	db, err := model.InitDB(cfg.Database)
	if err != nil {
		zlog.Fatal("failed to init database", zap.Error(err))
	}
	zlog.Info("database initialized")

	backend, err := llm.New(cfg.LLM)
	if err != nil {
		zlog.Fatal("failed to init llm backend", zap.Error(err))
	}

	r := handler.NewRouter(handler.Deps{
		DB:       db,
		Backend:  backend,
		Sessions: auth.NewSessions(cfg.Auth),
		Log:      zlog,
	})

	// 启动服务
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	zlog.Info("server starting", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		zlog.Fatal("failed to start server", zap.Error(err))
	}
}
