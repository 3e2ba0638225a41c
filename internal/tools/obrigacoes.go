package tools

import "time"

// Obrigacao 一项税务/劳动申报义务
type Obrigacao struct {
	Nome       string `json:"nome"`
	Prazo      string `json:"prazo"`
	Descricao  string `json:"descricao"`
	AplicaSe   string `json:"aplica_se,omitempty"`
	Prioridade string `json:"prioridade,omitempty"`
}

// ObrigacoesResult 某月的义务清单
type ObrigacoesResult struct {
	Mes             int         `json:"mes"`
	MesNome         string      `json:"mes_nome"`
	Ano             int         `json:"ano"`
	TotalObrigacoes int         `json:"total_obrigacoes"`
	Obrigacoes      []Obrigacao `json:"obrigacoes"`
	Observacao      string      `json:"observacao"`
}

var mesesNome = [12]string{
	"Janeiro", "Fevereiro", "Março", "Abril", "Maio", "Junho",
	"Julho", "Agosto", "Setembro", "Outubro", "Novembro", "Dezembro",
}

var obrigacoesMensais = []Obrigacao{
	{"DAS - Simples Nacional", "Dia 20", "Documento de Arrecadação do Simples Nacional", "Empresas optantes pelo Simples Nacional", "Alta"},
	{"DARF - Tributos Federais", "Dia 20", "Pagamento de impostos federais (IRPJ, CSLL, PIS, COFINS)", "Lucro Real e Lucro Presumido", "Alta"},
	{"GPS - INSS", "Dia 20", "Guia da Previdência Social", "Todas as empresas com funcionários", "Alta"},
	{"FGTS", "Dia 7", "Fundo de Garantia do Tempo de Serviço", "Todas as empresas com funcionários", "Alta"},
	{"SEFIP/GFIP", "Dia 7", "Sistema Empresa de Recolhimento do FGTS", "Empresas com funcionários", "Média"},
	{"DCTF Web", "Dia 15", "Declaração de Débitos e Créditos Tributários Federais", "Lucro Real e Presumido", "Média"},
}

var obrigacoesAnuais = map[int][]Obrigacao{
	1: {{Nome: "13º Salário (2ª Parcela)", Prazo: "Até 20/12 (ano anterior)", Descricao: "Segunda parcela do 13º salário"}},
	2: {{Nome: "RAIS", Prazo: "Até o último dia útil de março", Descricao: "Relação Anual de Informações Sociais"}},
	3: {{Nome: "DIRF", Prazo: "Último dia útil de fevereiro", Descricao: "Declaração do Imposto de Renda Retido na Fonte"}},
	4: {{Nome: "IRPF", Prazo: "Até 31/05", Descricao: "Declaração de Imposto de Renda Pessoa Física"}},
	5: {{Nome: "DEFIS", Prazo: "Até 31/03", Descricao: "Declaração de Informações Socioeconômicas e Fiscais (Simples)"}},
}

// ObrigacoesTool obter_obrigacoes_mes
type ObrigacoesTool struct {
	now func() time.Time
}

// NewObrigacoesTool 创建日历查询工具；now 为空时使用 time.Now
func NewObrigacoesTool(now func() time.Time) *ObrigacoesTool {
	if now == nil {
		now = time.Now
	}
	return &ObrigacoesTool{now: now}
}

func (t *ObrigacoesTool) Name() string { return "obter_obrigacoes_mes" }

func (t *ObrigacoesTool) Description() string {
	return "Retorna a lista de obrigações fiscais e trabalhistas de um mês específico, incluindo prazos e descrições"
}

func (t *ObrigacoesTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"mes": map[string]any{
				"type":        "integer",
				"description": "Número do mês (1-12). Se não informado, usa o mês atual",
				"minimum":     1,
				"maximum":     12,
				"nullable":    true,
			},
			"ano": map[string]any{
				"type":        "integer",
				"description": "Ano de referência. Se não informado, usa o ano atual",
				"nullable":    true,
			},
		},
		"required": []string{},
	}
}

func (t *ObrigacoesTool) Execute(args Args) any {
	now := t.now()
	mes, ok := args.OptionalInt("mes")
	if !ok {
		mes = int(now.Month())
	}
	ano, ok := args.OptionalInt("ano")
	if !ok {
		ano = now.Year()
	}
	return obrigacoesDoMes(mes, ano)
}

func obrigacoesDoMes(mes, ano int) any {
	if mes < 1 || mes > 12 {
		return ErrorResult{Erro: "Mês deve estar entre 1 e 12"}
	}

	obrigacoes := make([]Obrigacao, 0, len(obrigacoesMensais)+1)
	obrigacoes = append(obrigacoes, obrigacoesMensais...)
	obrigacoes = append(obrigacoes, obrigacoesAnuais[mes]...)

	return ObrigacoesResult{
		Mes:             mes,
		MesNome:         mesesNome[mes-1],
		Ano:             ano,
		TotalObrigacoes: len(obrigacoes),
		Obrigacoes:      obrigacoes,
		Observacao:      "Prazos podem variar se caírem em finais de semana ou feriados.",
	}
}
