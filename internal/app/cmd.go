package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は定期取り込みと実行記録のクリーンアップを行うワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandIngest は取り込みを1回だけ実行して終了することを示す。
	CommandIngest Command = "ingest"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandToken は管理者APIのJWTを発行して標準出力に書き出すことを示す。
	CommandToken Command = "token"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "worker":
		return CommandWorker
	case "serve":
		return CommandServe
	case "ingest":
		return CommandIngest
	case "migrate":
		return CommandMigrate
	case "token":
		return CommandToken
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}
