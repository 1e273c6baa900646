package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosuri/uitable"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/kr/pretty"
	"github.com/spf13/cobra"

	"ghmigrate/internal/cache"
	cfgpkg "ghmigrate/internal/config"
	"ghmigrate/internal/diag"
	"ghmigrate/internal/pipeline"
	"ghmigrate/internal/sources"
	"ghmigrate/pkg/contract"
)

// 退出码
const (
	exitOK       = 0
	exitFatal    = 1
	exitDegraded = 2
	exitConfig   = 3
)

var runMigration = sources.Run

// ghmigrate [全局旗标] <子命令> <输入...>
// 子命令即迁移来源；init-config 生成模板后退出。
func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// globalFlags: 覆盖配置的全局旗标；仅显式设置的旗标参与合并。
type globalFlags struct {
	config           string
	verbose          bool
	zip              bool
	cache            bool
	tmpPath          string
	outputPath       string
	cacheName        string
	limit            int
	sizeLimit        int
	concurrency      int
	keepLocalArchive bool
	uploadName       string
	logLevel         string
	status           bool
	metricsFile      string
}

type postFlags struct {
	drafts           bool
	pages            bool
	addTag           string
	fallbackHTMLCard bool
}

func execute(args []string, stdout, stderr io.Writer) int {
	code := exitOK
	root := newRootCmd(stdout, stderr, &code)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fprintf(stderr, "参数错误: %v\n", err)
		return exitConfig
	}
	return code
}

func newRootCmd(stdout, stderr io.Writer, code *int) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "ghmigrate",
		Short:         "把外部平台的导出迁移为可导入的归档",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&g.config, "config", "", "配置文件路径（.json/.yaml）；缺省读取 ./"+cfgpkg.DefaultFile+"（若存在）")
	pf.BoolVarP(&g.verbose, "verbose", "V", false, "输出详细结果")
	pf.BoolVar(&g.zip, "zip", true, "生成归档（false 时跳过归档与上传）")
	pf.BoolVar(&g.cache, "cache", true, "迁移完成后保留工作区（仅在 --zip 时有效）")
	pf.StringVar(&g.tmpPath, "tmp-path", "", "工作区根目录（默认系统临时目录）")
	pf.StringVar(&g.outputPath, "output-path", "", "归档输出目录（默认当前目录）")
	pf.StringVar(&g.cacheName, "cache-name", "", "工作区名称（默认取输入路径）")
	pf.IntVarP(&g.limit, "limit", "l", 0, "会员导入单批上限")
	pf.IntVar(&g.sizeLimit, "size-limit", 0, "资源大小上限（MB）")
	pf.IntVar(&g.concurrency, "concurrency", 0, "并发写出数")
	pf.BoolVar(&g.keepLocalArchive, "keep-local-archive", false, "上传成功后保留本地归档")
	pf.StringVar(&g.uploadName, "upload-name", "", "远端归档文件名")
	pf.StringVar(&g.logLevel, "log-level", "", "日志级别 debug|info|warn|error")
	pf.BoolVar(&g.status, "status", true, "终端状态提示（stderr）")
	pf.StringVar(&g.metricsFile, "metrics-file", "", "运行结束后写出 Prometheus textfile 指标")

	// wp-xml
	var wp postFlags
	wpCmd := &cobra.Command{
		Use:   "wp-xml <pathToFile>",
		Short: "从 WordPress XML 导出迁移",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			*code = runSource(cmd, g, "wp-xml", args, postsOverlay(cmd, wp), stdout, stderr)
			return nil
		},
	}
	addPostFlags(wpCmd, &wp)

	// curated
	var cur postFlags
	curCmd := &cobra.Command{
		Use:   "curated <pathToZip>",
		Short: "从 Curated 期刊导出（zip）迁移",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			*code = runSource(cmd, g, "curated", args, postsOverlay(cmd, cur), stdout, stderr)
			return nil
		},
	}
	addPostFlags(curCmd, &cur)

	// substack-members
	var compCap int
	memCmd := &cobra.Command{
		Use:   "substack-members <pathToFile>...",
		Short: "从 Substack 订阅者 CSV 迁移会员",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var over cfgpkg.Config
			if cmd.Flags().Changed("comp-cap") {
				over.Members.CompCap = compCap
			}
			*code = runSource(cmd, g, "substack-members", args, over, stdout, stderr)
			return nil
		},
	}
	memCmd.Flags().IntVar(&compCap, "comp-cap", 0, "comp 类别单批上限（默认 500）")

	// init-config
	initCmd := &cobra.Command{
		Use:   "init-config [dir]",
		Short: "生成默认配置 " + cfgpkg.DefaultFile + " 与 .env 模板（已存在则跳过）",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				dir = strings.TrimSpace(args[0])
			}
			*code = initConfig(dir, stdout, stderr)
			return nil
		},
	}

	root.AddCommand(wpCmd, curCmd, memCmd, initCmd)
	return root
}

func addPostFlags(cmd *cobra.Command, p *postFlags) {
	f := cmd.Flags()
	f.BoolVar(&p.drafts, "drafts", true, "导入草稿")
	f.BoolVar(&p.pages, "pages", true, "导入页面")
	f.StringVar(&p.addTag, "add-tag", "", "为本次迁移的每篇帖子追加的标签")
	f.BoolVar(&p.fallbackHTMLCard, "fallback-html-card", false, "标准转换失败时退回 HTML 卡片")
}

func postsOverlay(cmd *cobra.Command, p postFlags) cfgpkg.Config {
	var over cfgpkg.Config
	f := cmd.Flags()
	if f.Changed("drafts") {
		over.Posts.Drafts = &p.drafts
	}
	if f.Changed("pages") {
		over.Posts.Pages = &p.pages
	}
	if f.Changed("add-tag") {
		over.Posts.AddTag = p.addTag
	}
	if f.Changed("fallback-html-card") {
		over.Posts.FallbackHTMLCard = &p.fallbackHTMLCard
	}
	return over
}

// cliOverlay 把显式设置的全局旗标转为配置覆盖。
func cliOverlay(cmd *cobra.Command, g *globalFlags) cfgpkg.Config {
	var over cfgpkg.Config
	f := cmd.Flags()
	set := f.Changed
	if set("verbose") {
		over.Verbose = &g.verbose
	}
	if set("zip") {
		over.Zip = &g.zip
	}
	if set("cache") {
		over.Cache = &g.cache
	}
	if set("keep-local-archive") {
		over.KeepLocalArchive = &g.keepLocalArchive
	}
	over.TmpPath = g.tmpPath
	over.OutputPath = g.outputPath
	over.CacheName = g.cacheName
	over.UploadName = g.uploadName
	over.Logging.Level = g.logLevel
	over.Limit = g.limit
	over.SizeLimit = g.sizeLimit
	over.Concurrency = g.concurrency
	return over
}

// loadConfig: 默认值 → 文件/JSON → ENV → CLI。
func loadConfig(cmd *cobra.Command, g *globalFlags, over cfgpkg.Config) (cfgpkg.Config, error) {
	// 在任何 ENV 读取前加载工作目录下的 .env（不覆盖已有 ENV）。
	if err := cfgpkg.LoadDotEnv(".env"); err != nil {
		return cfgpkg.Config{}, err
	}
	var raw []byte
	if s := os.Getenv(cfgpkg.EnvPrefix + "CONFIG_JSON"); s != "" {
		raw = []byte(s)
	}
	path := g.config
	if path == "" {
		path = os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE")
	}
	if path == "" {
		if _, err := os.Stat(cfgpkg.DefaultFile); err == nil {
			path = cfgpkg.DefaultFile
		}
	}

	cfg := cfgpkg.Defaults()
	if path != "" || len(raw) > 0 {
		base, err := cfgpkg.Load(path, raw)
		if err != nil {
			return cfg, err
		}
		cfg = cfgpkg.Merge(cfg, base)
	}
	env, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return cfg, err
	}
	cfg = cfgpkg.Merge(cfg, env)
	cfg = cfgpkg.Merge(cfg, cliOverlay(cmd, g))
	return cfgpkg.Merge(cfg, over), nil
}

func runSource(cmd *cobra.Command, g *globalFlags, source string, args []string, over cfgpkg.Config, stdout, stderr io.Writer) int {
	start := time.Now()
	corrID := uuid.NewString()
	// 配置确定前日志写 stderr
	logger := diag.NewLogger(corrID, "info", "")

	over.Source = source
	over.Inputs = args
	cfg, err := loadConfig(cmd, g, over)
	if err != nil {
		fprintf(stderr, "配置解析失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), err.Error(), &start)
		return exitConfig
	}
	if err := cfgpkg.Validate(cfg); err != nil {
		fprintf(stderr, "配置校验失败: %v\n", err)
		// 打印有效配置，便于诊断
		_ = dumpConfig(stderr, cfg)
		logger.Error("config", string(diag.Classify(err)), err.Error(), &start)
		return exitConfig
	}

	// 使用最终配置重建 logger；日志目录缺省为工作区根目录下的 _logs/
	logDir := cfg.Logging.Dir
	if strings.TrimSpace(logDir) == "" {
		logDir = filepath.Join(cache.Base(cfg.TmpPath), "_logs")
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		fprintf(stderr, "日志目录不可用: %v\n", err)
		return exitConfig
	}
	logger = diag.NewLogger(corrID, cfg.Logging.Level, logDir)
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	m, err := cfgpkg.Assemble(ctx, cfg, clock.WallClock)
	if err != nil {
		fprintf(stderr, "装配失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), err.Error(), &start)
		return exitConfig
	}
	logger.DebugStart("config", "effective", "", "", map[string]string{
		"source":      cfg.Source,
		"inputs":      fmt.Sprintf("%d", len(cfg.Inputs)),
		"zip":         fmt.Sprintf("%t", cfgpkg.Bool(cfg.Zip)),
		"cache":       fmt.Sprintf("%t", cfgpkg.Bool(cfg.Cache)),
		"concurrency": fmt.Sprintf("%d", cfg.Concurrency),
		"storage":     cfg.Output.Storage,
	})

	// 终端信息提示（非日志）
	term := diag.NewTerminal(stderr, g.status)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)

	if cfgpkg.Bool(cfg.Verbose) {
		fprintf(stdout, "从 %s 迁移（来源 %s）\n", strings.Join(cfg.Inputs, ", "), cfg.Source)
	}
	st, runErr := runMigration(ctx, m, clock.WallClock, logger)

	code := exitOK
	switch {
	case runErr != nil:
		code = exitFatal
		if !errors.Is(runErr, context.Canceled) {
			fprintf(stderr, "运行失败: %v\n", runErr)
		}
		if c := st.Cache(); c != nil {
			fprintf(stderr, "错误日志位于 %s\n", c.LogDir())
		}
	case st.Degraded():
		code = exitDegraded
	}
	printSummary(stdout, st)
	if cfgpkg.Bool(cfg.Verbose) {
		printVerbose(stdout, st)
	}

	diag.ObserveDuration("ghmigrate", "run", time.Since(start).Milliseconds())
	if g.metricsFile != "" {
		if err := diag.WriteMetrics(g.metricsFile); err != nil {
			fprintf(stderr, "提示：指标写出失败（已跳过）：%v\n", err)
		}
	}
	return code
}

// printSummary 输出阶段表，随后列出警告与错误。
func printSummary(w io.Writer, st *pipeline.State) {
	table := uitable.New()
	table.MaxColWidth = 60
	table.AddRow("阶段", "类别", "状态", "用时")
	for _, r := range st.Reports() {
		table.AddRow(r.Name, r.Kind.String(), string(r.Status), r.Duration.Round(time.Millisecond).String())
	}
	fmt.Fprintln(w, table)

	if ws := st.Warnings(); len(ws) > 0 {
		fmt.Fprintf(w, "\n警告 (%d):\n", len(ws))
		for _, i := range ws {
			fmt.Fprintf(w, "  [%s] %s\n", i.Stage, issueText(i))
		}
	}
	if es := st.Errors(); len(es) > 0 {
		fmt.Fprintf(w, "\n错误 (%d):\n", len(es))
		for _, i := range es {
			fmt.Fprintf(w, "  [%s] %s\n", i.Stage, issueText(i))
		}
	}
	if of := st.OutputFile(); of != nil {
		if of.Uploaded {
			fmt.Fprintf(w, "\n归档已上传至 %s\n", of.Location)
		} else {
			fmt.Fprintf(w, "\n归档已写入 %s\n", of.Path)
		}
	}
}

func issueText(i pipeline.Issue) string {
	if i.RecordID == "" {
		return i.Message
	}
	return i.RecordID + ": " + i.Message
}

// runSummary: --verbose 输出的结果摘要。
type runSummary struct {
	Source   string
	Posts    int
	Members  map[string]int
	Batches  []contract.BatchFile
	Output   *contract.OutputFile
	Errors   int
	Warnings int
}

func printVerbose(w io.Writer, st *pipeline.State) {
	s := runSummary{
		Source:   st.Options().Source,
		Batches:  st.Result.Batches,
		Output:   st.OutputFile(),
		Errors:   len(st.Errors()),
		Warnings: len(st.Warnings()),
	}
	if in := st.Result.Ingested; in != nil {
		s.Posts = len(in.Posts)
		if len(in.Members) > 0 {
			s.Members = make(map[string]int, len(in.Members))
			for _, c := range in.Categories() {
				s.Members[c] = len(in.Members[c])
			}
		}
	}
	if doc := st.Result.Document; doc != nil {
		s.Posts = len(doc.Data.Posts)
	}
	pretty.Fprintf(w, "%# v\n", s)
}

func initConfig(dir string, stdout, stderr io.Writer) int {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fprintf(stderr, "生成默认配置失败: %v\n", err)
		return exitConfig
	}
	cfgPath := filepath.Join(dir, cfgpkg.DefaultFile)
	if err := writeConfig(cfgPath, cfgpkg.DefaultTemplateConfig()); err != nil {
		fprintf(stderr, "生成默认配置失败: %v\n", err)
		return exitConfig
	}
	// .env 生成失败不影响退出码
	if err := writeIfAbsent(filepath.Join(dir, ".env"), []byte(cfgpkg.DotEnvTemplate)); err != nil {
		fprintf(stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
	}
	fprintf(stdout, "已生成 %s\n", cfgPath)
	return exitOK
}

func fprintf(w io.Writer, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

func dumpConfig(w io.Writer, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "有效配置:\n%s\n", b)
	return err
}

// writeConfig 不覆盖已存在文件；已存在时跳过。
func writeConfig(path string, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return writeIfAbsent(path, append(b, '\n'))
}

func writeIfAbsent(path string, b []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	_, err = f.Write(b)
	return err
}
