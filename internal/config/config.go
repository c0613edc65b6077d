// Package config 负责加载和验证 YAML 配置文件。
// 提供计算后端、回放输入、结果输出与指标服务等配置项。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envPrefix 环境变量覆盖前缀
const envPrefix = "BOOKSIG_"

// Config 应用配置根结构
type Config struct {
	// App 应用基础配置
	App AppConfig `yaml:"app"`
	// Backend 计算后端配置
	Backend BackendConfig `yaml:"backend"`
	// Replay 快照回放配置
	Replay ReplayConfig `yaml:"replay"`
	// Output 输出配置
	Output OutputConfig `yaml:"output"`
	// Metrics 指标服务配置
	Metrics MetricsConfig `yaml:"metrics"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	// Name 应用名称，用于日志标识
	Name string `yaml:"name"`
	// LogLevel 日志级别: debug, info, warn, error
	LogLevel string `yaml:"log_level"`
}

// BackendConfig 计算后端配置
type BackendConfig struct {
	// AcceleratorEnabled 是否尝试硬件加速（失败自动回退并行模式）；默认开启
	AcceleratorEnabled *bool `yaml:"accelerator_enabled"`
	// ProbeTimeoutMs 加速设备探测超时（毫秒）
	ProbeTimeoutMs int `yaml:"probe_timeout_ms"`
	// Workers 并行路径最大并发数，0 表示 GOMAXPROCS
	Workers int `yaml:"workers"`
	// ValidateInput 是否拒绝负值/非有限数快照；默认开启
	ValidateInput *bool `yaml:"validate_input"`
}

// ReplayConfig 快照回放配置
type ReplayConfig struct {
	// Input 快照文件路径（.jsonl 或 .csv）
	Input string `yaml:"input"`
	// BatchSize 每批快照数
	BatchSize int `yaml:"batch_size"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	// Dir 输出目录
	Dir string `yaml:"dir"`
	// ResultsEnabled 是否输出批次结果文件
	ResultsEnabled bool `yaml:"results_enabled"`
	// BufferSize 异步写入缓冲区大小
	BufferSize int `yaml:"buffer_size"`
}

// MetricsConfig 指标服务配置
type MetricsConfig struct {
	// Addr 监听地址，如 ":9102"；为空表示不启动
	Addr string `yaml:"addr"`
}

// Load 从文件加载配置并验证
// 加载顺序：YAML 文件 → .env 与 BOOKSIG_* 环境变量覆盖 → 默认值 → 验证
// 参数 path: 配置文件路径
// 返回: 解析后的配置对象，若失败则返回错误
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// .env 不存在时忽略
	_ = godotenv.Load()
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides 读取 BOOKSIG_* 环境变量覆盖配置
func (c *Config) applyEnvOverrides() error {
	var errs []string

	setStr(&c.App.LogLevel, "LOG_LEVEL")
	setStr(&c.Replay.Input, "REPLAY_INPUT")
	setStr(&c.Output.Dir, "OUTPUT_DIR")
	setStr(&c.Metrics.Addr, "METRICS_ADDR")

	if err := setInt(&c.Backend.Workers, "BACKEND_WORKERS"); err != nil {
		errs = append(errs, err.Error())
	}
	if err := setInt(&c.Backend.ProbeTimeoutMs, "BACKEND_PROBE_TIMEOUT_MS"); err != nil {
		errs = append(errs, err.Error())
	}
	if err := setInt(&c.Replay.BatchSize, "REPLAY_BATCH_SIZE"); err != nil {
		errs = append(errs, err.Error())
	}
	if err := setBoolPtr(&c.Backend.AcceleratorEnabled, "BACKEND_ACCELERATOR_ENABLED"); err != nil {
		errs = append(errs, err.Error())
	}
	if err := setBoolPtr(&c.Backend.ValidateInput, "BACKEND_VALIDATE_INPUT"); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("环境变量覆盖错误:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func setStr(dst *string, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s%s: 无效的整数 '%s'", envPrefix, key, v)
	}
	*dst = n
	return nil
}

func setBoolPtr(dst **bool, key string) error {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s%s: 无效的布尔值 '%s'", envPrefix, key, v)
	}
	*dst = &b
	return nil
}

// setDefaults 设置配置默认值
func (c *Config) setDefaults() {
	if c.App.Name == "" {
		c.App.Name = "book-signal-engine"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}

	if c.Backend.ProbeTimeoutMs == 0 {
		c.Backend.ProbeTimeoutMs = 500
	}
	if c.Backend.AcceleratorEnabled == nil {
		v := true
		c.Backend.AcceleratorEnabled = &v
	}
	if c.Backend.ValidateInput == nil {
		v := true
		c.Backend.ValidateInput = &v
	}

	if c.Replay.BatchSize == 0 {
		c.Replay.BatchSize = 256
	}

	if c.Output.Dir == "" {
		c.Output.Dir = "./output"
	}
	if c.Output.BufferSize == 0 {
		c.Output.BufferSize = 1000
	}
}

// Validate 验证配置合法性
// 返回: 若配置无效则返回描述性错误（包含全部问题）
func (c *Config) Validate() error {
	var errs []string

	if c.Backend.ProbeTimeoutMs <= 0 {
		errs = append(errs, "backend.probe_timeout_ms: 探测超时必须为正数")
	}
	if c.Backend.ProbeTimeoutMs > 10000 {
		errs = append(errs, fmt.Sprintf("backend.probe_timeout_ms: 探测超时不能超过 10000，当前值: %d", c.Backend.ProbeTimeoutMs))
	}
	if c.Backend.Workers < 0 {
		errs = append(errs, "backend.workers: 并发数不能为负数")
	}

	if c.Replay.BatchSize <= 0 {
		errs = append(errs, "replay.batch_size: 批大小必须为正数")
	}

	if c.Output.BufferSize < 0 {
		errs = append(errs, "output.buffer_size: 缓冲区大小不能为负数")
	}
	if c.Output.ResultsEnabled && c.Output.Dir == "" {
		errs = append(errs, "output.dir: 启用结果输出时目录不能为空")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.App.LogLevel)] {
		errs = append(errs, fmt.Sprintf("app.log_level: 无效的日志级别 '%s'，有效值: debug, info, warn, error", c.App.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("配置验证错误:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// AcceleratorOn 是否尝试硬件加速（未设置时默认开启）
func (b *BackendConfig) AcceleratorOn() bool {
	return b.AcceleratorEnabled == nil || *b.AcceleratorEnabled
}

// ValidateInputEnabled 是否启用输入校验（未设置时默认开启）
func (b *BackendConfig) ValidateInputEnabled() bool {
	return b.ValidateInput == nil || *b.ValidateInput
}
