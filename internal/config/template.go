package config

import "encoding/json"

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 来源为 wp-xml，输入为 ./export.xml；
// - 归档写入 ./out，不上传；
// - 组件选项给出安全中性默认值，省略的键由顶层开关补齐。
func DefaultTemplateConfig() Config {
	cfg := Defaults()
	cfg.Source = "wp-xml"
	cfg.Inputs = []string{"export.xml"}
	cfg.OutputPath = "out"
	cfg.Options.Reader = json.RawMessage(`{
  "buf_size": 65536,
  "exclude_dir_names": [".git", "node_modules"]
}`)
	cfg.Options.Formatter = json.RawMessage(`{
  "email_domain": "example.com"
}`)
	return cfg
}

// DotEnvTemplate 为 init-config 生成的 .env 模板。
const DotEnvTemplate = `# ghmigrate 环境变量（不会覆盖已存在的变量）
# GHMIGRATE_LOG_LEVEL=info
# GHMIGRATE_TMP_PATH=
# GHMIGRATE_OUTPUT_PATH=out
# GHMIGRATE_OUTPUT_STORAGE=s3
# GHMIGRATE_OUTPUT_OPTIONS_JSON={"bucket":"my-bucket","region":"us-east-1","access_key_env":"AWS_ACCESS_KEY_ID","secret_key_env":"AWS_SECRET_ACCESS_KEY"}
# AWS_ACCESS_KEY_ID=
# AWS_SECRET_ACCESS_KEY=
`
