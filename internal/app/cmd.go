package app

import (
	"fmt"
	"io"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は期限切れ招待のクリーンアップワーカーとして起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandHelp はサブコマンドの一覧を表示する。
	CommandHelp Command = "help"
)

// commands はサブコマンドと説明の一覧。表示順を保つためスライスで持つ。
var commands = []struct {
	cmd  Command
	desc string
}{
	{CommandServe, "start the HTTP API server (default)"},
	{CommandWorker, "periodically persist expired invites"},
	{CommandMigrate, "apply pending migrations (migrate [up|down N|version])"},
	{CommandHealthcheck, "probe /health on SERVER_PORT and exit non-zero on failure"},
	{CommandHelp, "show this help"},
}

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
// "-h" と "--help" はCommandHelpとして扱う。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	switch args[0] {
	case "-h", "--help":
		return CommandHelp
	}
	for _, c := range commands {
		if string(c.cmd) == args[0] {
			return c.cmd
		}
	}
	return CommandServe
}

// writeUsage はサブコマンドの一覧をwに出力する。
func writeUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: giftshare <command>")
	fmt.Fprintln(w)
	for _, c := range commands {
		fmt.Fprintf(w, "  %-12s %s\n", c.cmd, c.desc)
	}
}
