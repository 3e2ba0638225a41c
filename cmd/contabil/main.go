// cmd/contabil/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"

	"github.com/DoubleG2s/agente-ia-contabilidade/internal/agent"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/agent/tokenizer"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/config"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/llm"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/logger"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/schema"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/tools"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/utils/textutil"
)

//
// ANSI Colors
//

const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorDim    = "\033[2m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"

	ColorBrightGreen  = "\033[92m"
	ColorBrightYellow = "\033[93m"
	ColorBrightBlue   = "\033[94m"
	ColorBrightCyan   = "\033[96m"
)

const boxWidth = 58

//
// CLI 参数解析
//

type CLIArgs struct {
	NoTools bool
	Stream  bool
}

func parseArgs() *CLIArgs {
	args := &CLIArgs{}
	flag.BoolVar(&args.NoTools, "no-tools", false, "Do not offer accounting tools to the model")
	flag.BoolVar(&args.Stream, "stream", false, "Start in streaming mode (tools are never offered while streaming)")
	flag.Parse()
	return args
}

//
// 会话状态：只保存在内存里
//

type session struct {
	ag       *agent.Agent
	turns    []schema.ConversationTurn
	keep     int
	tokenCap int
	useTools bool
	stream   bool
	start    time.Time

	usage     schema.Usage
	toolCalls int
}

func (s *session) history() []schema.ConversationTurn {
	from := 0
	if len(s.turns) > s.keep {
		from = len(s.turns) - s.keep
	}
	return tokenizer.TrimHistory(s.turns[from:], s.tokenCap)
}

func (s *session) remember(user, assistant string) {
	s.turns = append(s.turns, schema.ConversationTurn{UserMessage: user, AssistantMessage: assistant})
}

//
// Banner & 帮助 & Session Info & Stats
//

func printBanner() {
	text := fmt.Sprintf("%s🧮 Agente IA Contabilidade%s", ColorBold, ColorReset)

	fmt.Println()
	fmt.Printf("%s%s╔%s╗%s\n", ColorBold, ColorBrightCyan, strings.Repeat("═", boxWidth), ColorReset)
	fmt.Printf("%s%s║%s%s║%s\n", ColorBold, ColorBrightCyan, textutil.Center(text, boxWidth, ' '), ColorBrightCyan, ColorReset)
	fmt.Printf("%s%s╚%s╝%s\n", ColorBold, ColorBrightCyan, strings.Repeat("═", boxWidth), ColorReset)
	fmt.Println()
}

func printHelp() {
	fmt.Printf(`
%s%sComandos:%s
  %s/help%s      - Mostra esta ajuda
  %s/clear%s     - Limpa o histórico da sessão
  %s/history%s   - Mostra as últimas conversas
  %s/stats%s     - Estatísticas da sessão
  %s/tools%s     - Lista as ferramentas contábeis
  %s/stream%s    - Liga/desliga o modo streaming
  %s/exit%s      - Sai (também: exit, quit, q, sair)

%s%sNotas:%s
  - No modo streaming as ferramentas não são oferecidas ao modelo
  - Use Tab para completar os comandos
`,
		ColorBold, ColorBrightYellow, ColorReset,
		ColorBrightGreen, ColorReset,
		ColorBrightGreen, ColorReset,
		ColorBrightGreen, ColorReset,
		ColorBrightGreen, ColorReset,
		ColorBrightGreen, ColorReset,
		ColorBrightGreen, ColorReset,
		ColorBrightGreen, ColorReset,

		ColorBold, ColorBrightYellow, ColorReset,
	)
}

func printInfoLine(text string) {
	fmt.Printf("%s│%s %s%s│%s\n",
		ColorDim, ColorReset,
		textutil.PadRight(text, boxWidth-1),
		ColorDim, ColorReset)
}

func printSessionInfo(s *session, model string) {
	fmt.Printf("%s┌%s┐%s\n", ColorDim, strings.Repeat("─", boxWidth), ColorReset)
	header := fmt.Sprintf("%sSessão%s", ColorBrightCyan, ColorReset)
	fmt.Printf("%s│%s%s%s│%s\n", ColorDim, ColorReset, textutil.Center(header, boxWidth, ' '), ColorDim, ColorReset)
	fmt.Printf("%s├%s┤%s\n", ColorDim, strings.Repeat("─", boxWidth), ColorReset)

	printInfoLine(fmt.Sprintf("Modelo: %s", model))
	printInfoLine(fmt.Sprintf("Ferramentas: %d (%s)", len(s.ag.Registry().Names()), onOff(s.useTools)))
	printInfoLine(fmt.Sprintf("Streaming: %s", onOff(s.stream)))
	printInfoLine(fmt.Sprintf("Histórico: últimas %d conversas, até %d tokens", s.keep, s.tokenCap))

	fmt.Printf("%s└%s┘%s\n", ColorDim, strings.Repeat("─", boxWidth), ColorReset)
	fmt.Println()
	fmt.Printf("%sDigite %s/help%s para ajuda, %s/exit%s para sair%s\n",
		ColorDim, ColorBrightGreen, ColorDim, ColorBrightGreen, ColorDim, ColorReset)
	fmt.Println()
}

func printStats(s *session) {
	dur := time.Since(s.start)
	totalSec := int(dur.Seconds())
	hours := totalSec / 3600
	minutes := (totalSec % 3600) / 60
	seconds := totalSec % 60

	fmt.Printf("\n%s%sEstatísticas da sessão:%s\n", ColorBold, ColorBrightCyan, ColorReset)
	fmt.Printf("%s%s%s\n", ColorDim, strings.Repeat("─", 40), ColorReset)
	fmt.Printf("  Duração: %02d:%02d:%02d\n", hours, minutes, seconds)
	fmt.Printf("  Conversas: %d\n", len(s.turns))
	fmt.Printf("    - Chamadas de ferramenta: %s%d%s\n", ColorBrightYellow, s.toolCalls, ColorReset)
	fmt.Printf("  Tokens: %s%d%s (prompt %d, resposta %d)\n",
		ColorBrightBlue, s.usage.Total, ColorReset, s.usage.Prompt, s.usage.Completion)
	fmt.Printf("  Tokens do histórico (estimado): %d\n", tokenizer.EstimateTurns(s.turns))
	fmt.Printf("%s%s%s\n\n", ColorDim, strings.Repeat("─", 40), ColorReset)
}

func printHistory(s *session) {
	if len(s.turns) == 0 {
		fmt.Printf("\n%sNenhuma conversa nesta sessão%s\n\n", ColorDim, ColorReset)
		return
	}
	fmt.Println()
	for i, t := range s.turns {
		fmt.Printf("%s%2d.%s %sVocê:%s %s\n", ColorDim, i+1, ColorReset, ColorBrightGreen, ColorReset, textutil.Truncate(t.UserMessage, 70))
		fmt.Printf("    %sAgente:%s %s\n", ColorBrightBlue, ColorReset, textutil.Truncate(t.AssistantMessage, 70))
	}
	fmt.Println()
}

func printTools(reg *tools.ToolRegistry) {
	fmt.Printf("\n%s%sFerramentas disponíveis:%s\n", ColorBold, ColorBrightCyan, ColorReset)
	for _, t := range reg.List() {
		fmt.Printf("  %s%s%s\n    %s%s%s\n", ColorBrightGreen, t.Name(), ColorReset, ColorDim, textutil.Truncate(t.Description(), 90), ColorReset)
	}
	fmt.Println()
}

func onOff(v bool) string {
	if v {
		return "ligado"
	}
	return "desligado"
}

//
// 对话
//

func ask(s *session, input string) {
	fmt.Printf("\n%sAgente%s %s›%s ", ColorBrightBlue, ColorReset, ColorDim, ColorReset)

	// Ctrl+C 只取消当前回答
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if s.stream {
		st := s.ag.Stream(ctx, input, s.history())
		for chunk := range st.Chunks() {
			fmt.Print(chunk)
		}
		st.Wait()
		fmt.Println()
		if st.Completed() && ctx.Err() == nil {
			s.remember(input, st.FullText())
		}
		return
	}

	fmt.Printf("%sPensando...%s\n\n", ColorDim, ColorReset)
	result, err := s.ag.Complete(ctx, input, s.history(), s.useTools)
	if err != nil {
		printError(err)
		return
	}

	if len(result.ToolsUsed) > 0 {
		fmt.Printf("%s🔧 %s%s\n\n", ColorYellow, strings.Join(result.ToolsUsed, ", "), ColorReset)
	}
	fmt.Println(result.Message)

	s.usage = s.usage.Add(result.TokensUsed)
	s.toolCalls += len(result.ToolsUsed)
	s.remember(input, result.Message)
}

func printError(err error) {
	var (
		provider *agent.ProviderError
		unknown  *agent.UnknownToolError
	)
	switch {
	case errors.Is(err, context.Canceled):
		fmt.Printf("%s⏹  Cancelado%s\n", ColorDim, ColorReset)
	case errors.As(err, &provider):
		fmt.Printf("%s❌ Falha no provedor (%s): %v%s\n", ColorRed, provider.Phase, provider.Err, ColorReset)
	case errors.As(err, &unknown):
		fmt.Printf("%s❌ O modelo pediu uma ferramenta desconhecida: %s%s\n", ColorRed, unknown.Name, ColorReset)
	default:
		fmt.Printf("%s❌ Erro: %v%s\n", ColorRed, err, ColorReset)
	}
}

//
// runAgent：交互循环，用 go-prompt 实现
//

func runAgent(args *CLIArgs) error {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("%s❌ Falha ao carregar configuração: %v%s\n", ColorRed, err, ColorReset)
		return err
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("%s❌ Configuração inválida: %v%s\n", ColorRed, err, ColorReset)
		return err
	}
	logger.NewWithWriter(os.Stderr, "warn", "text")

	// 2. LLM client
	client := llm.NewClient(cfg.LLM.APIKey, cfg.LLM.Model,
		llm.WithBaseURL(cfg.LLM.APIBase),
		llm.WithTimeout(cfg.LLM.RequestTimeout()),
		llm.WithGeneration(int64(cfg.LLM.MaxTokens), cfg.LLM.Temperature),
	)

	// 3. 工具与记录器
	registry := tools.NewAccountingRegistry(time.Now)
	fmt.Printf("%s✅ %d ferramentas contábeis carregadas%s\n", ColorGreen, len(registry.Names()), ColorReset)

	var opts []agent.Option
	if cfg.Agent.TranscriptDir != "" {
		transcript, err := logger.NewTranscriptLogger(cfg.Agent.TranscriptDir)
		if err != nil {
			return err
		}
		defer func() { _ = transcript.Close() }()
		opts = append(opts, agent.WithRecorder(transcript))
		fmt.Printf("%s✅ Transcrição em %s%s\n", ColorGreen, transcript.Path(), ColorReset)
	}

	// 4. 编排器
	s := &session{
		ag:       agent.NewAgent(client, registry, cfg.Agent.SystemPrompt, opts...),
		keep:     cfg.Agent.HistoryContextTurns,
		tokenCap: cfg.Agent.HistoryTokenLimit,
		useTools: !args.NoTools,
		stream:   args.Stream,
		start:    time.Now(),
	}

	// 5. 欢迎信息
	printBanner()
	printSessionInfo(s, cfg.LLM.Model)

	// 6. go-prompt：补全器
	completer := func(d prompt.Document) []prompt.Suggest {
		text := strings.TrimSpace(d.TextBeforeCursor())
		if len(text) == 0 || strings.HasPrefix(text, "/") {
			suggestions := []prompt.Suggest{
				{Text: "/help", Description: "Ajuda"},
				{Text: "/clear", Description: "Limpa o histórico"},
				{Text: "/history", Description: "Mostra as conversas"},
				{Text: "/stats", Description: "Estatísticas"},
				{Text: "/tools", Description: "Ferramentas contábeis"},
				{Text: "/stream", Description: "Liga/desliga streaming"},
				{Text: "/exit", Description: "Sair"},
			}
			return prompt.FilterHasPrefix(suggestions, text, true)
		}
		return []prompt.Suggest{}
	}

	goodbye := func() {
		fmt.Printf("\n%s👋 Até logo!%s\n\n", ColorBrightYellow, ColorReset)
		printStats(s)
		os.Exit(0)
	}

	// 7. go-prompt：执行器
	executor := func(in string) {
		input := strings.TrimSpace(in)
		if input == "" {
			return
		}

		if strings.HasPrefix(input, "/") {
			switch strings.ToLower(input) {
			case "/exit", "/quit", "/q", "/sair":
				goodbye()
			case "/help":
				printHelp()
			case "/clear":
				fmt.Printf("%s✅ %d conversas removidas, nova sessão iniciada%s\n\n", ColorGreen, len(s.turns), ColorReset)
				s.turns = nil
			case "/history":
				printHistory(s)
			case "/stats":
				printStats(s)
			case "/tools":
				printTools(s.ag.Registry())
			case "/stream":
				s.stream = !s.stream
				fmt.Printf("%sStreaming %s%s\n\n", ColorBrightCyan, onOff(s.stream), ColorReset)
			default:
				fmt.Printf("%s❌ Comando desconhecido: %s%s\n", ColorRed, input, ColorReset)
				fmt.Printf("%sDigite /help para ver os comandos%s\n\n", ColorDim, ColorReset)
			}
			return
		}

		switch strings.ToLower(input) {
		case "exit", "quit", "q", "sair":
			goodbye()
		}

		msg := textutil.SanitizeInput(input, textutil.MaxMessageLength)
		if msg == "" {
			return
		}
		ask(s, msg)
		fmt.Printf("\n%s%s%s\n\n", ColorDim, strings.Repeat("─", 60), ColorReset)
	}

	// 8. 启动 go-prompt
	p := prompt.New(
		executor,
		completer,
		prompt.OptionPrefix("Você › "),
		prompt.OptionTitle("contabil"),
		prompt.OptionInputTextColor(prompt.Yellow),
	)
	p.Run()

	return nil
}

func main() {
	if err := runAgent(parseArgs()); err != nil {
		os.Exit(1)
	}
}
