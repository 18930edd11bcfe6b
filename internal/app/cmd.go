package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はローカルコンソールサーバーとして起動することを示す。
	CommandServe Command = "serve"
	// CommandWatch はスキャンの状態遷移をログに出力し続けることを示す。
	CommandWatch Command = "watch"
	// CommandLogin はメールアドレスとパスワードでログインすることを示す。
	CommandLogin Command = "login"
	// CommandLogout は保存済みの資格情報を削除することを示す。
	CommandLogout Command = "logout"
	// CommandStatus はセッションと連携状態を標準出力に表示することを示す。
	CommandStatus Command = "status"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
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
	case "serve":
		return CommandServe
	case "watch":
		return CommandWatch
	case "login":
		return CommandLogin
	case "logout":
		return CommandLogout
	case "status":
		return CommandStatus
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}
