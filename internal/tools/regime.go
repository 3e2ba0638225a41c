package tools

const lucroPresumidoLimit = 78000000.0

// RegimeOption 可选税制
type RegimeOption struct {
	Regime           string   `json:"regime"`
	Viavel           bool     `json:"viavel"`
	AliquotaEstimada string   `json:"aliquota_estimada"`
	Vantagens        []string `json:"vantagens"`
	Desvantagens     []string `json:"desvantagens"`
}

// RegimeResult 分析结果
type RegimeResult struct {
	ReceitaAnual       string         `json:"receita_anual"`
	Atividade          string         `json:"atividade"`
	RegimesDisponiveis []RegimeOption `json:"regimes_disponiveis"`
	Sugestao           string         `json:"sugestao"`
	Observacao         string         `json:"observacao"`
}

// RegimeTool verificar_tipo_regime_tributario
type RegimeTool struct{}

func (RegimeTool) Name() string { return "verificar_tipo_regime_tributario" }

func (RegimeTool) Description() string {
	return "Analisa e sugere o melhor regime tributário (Simples Nacional, Lucro Presumido ou Lucro Real) baseado na receita anual da empresa"
}

func (RegimeTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"receita_anual": map[string]any{
				"type":        "number",
				"description": "Receita bruta anual estimada ou realizada em reais (R$)",
			},
			"atividade": map[string]any{
				"type":        "string",
				"description": "Tipo de atividade da empresa",
				"enum":        []string{"comercio", "industria", "servicos"},
				"default":     "comercio",
			},
		},
		"required": []string{"receita_anual"},
	}
}

func (RegimeTool) Execute(args Args) any {
	return analisarRegime(args.Float("receita_anual", 0), args.String("atividade", "comercio"))
}

func analisarRegime(receita float64, atividade string) any {
	if receita < 0 {
		return ErrorResult{Erro: "Receita anual não pode ser negativa"}
	}

	out := RegimeResult{
		ReceitaAnual:       formatMoney(receita),
		Atividade:          atividade,
		RegimesDisponiveis: []RegimeOption{},
	}

	if receita <= simplesNacionalLimit {
		out.RegimesDisponiveis = append(out.RegimesDisponiveis, RegimeOption{
			Regime:           "Simples Nacional",
			Viavel:           true,
			AliquotaEstimada: "4% a 33% (dependendo do anexo e faixa)",
			Vantagens: []string{
				"Simplificação de obrigações",
				"Unificação de tributos em guia única",
				"Menor carga tributária para pequenas empresas",
			},
			Desvantagens: []string{
				"Limite de receita (R$ 4,8 milhões/ano)",
				"Restrições de atividades",
				"Não permite alguns tipos de créditos tributários",
			},
		})
	}

	if receita <= lucroPresumidoLimit {
		out.RegimesDisponiveis = append(out.RegimesDisponiveis, RegimeOption{
			Regime:           "Lucro Presumido",
			Viavel:           true,
			AliquotaEstimada: "13,33% a 16,33% (aproximado)",
			Vantagens: []string{
				"Menor complexidade que Lucro Real",
				"Tributação sobre lucro presumido, não real",
				"Adequado para empresas com margens altas",
			},
			Desvantagens: []string{
				"Não permite compensação de prejuízos",
				"Limite de receita (R$ 78 milhões/ano)",
				"Pode ser desvantajoso para margens baixas",
			},
		})
	}

	out.RegimesDisponiveis = append(out.RegimesDisponiveis, RegimeOption{
		Regime:           "Lucro Real",
		Viavel:           true,
		AliquotaEstimada: "Variável (sobre lucro efetivo)",
		Vantagens: []string{
			"Tributa apenas o lucro real",
			"Permite compensação de prejuízos",
			"Obrigatório para receitas acima de R$ 78 milhões",
		},
		Desvantagens: []string{
			"Maior complexidade contábil",
			"Mais obrigações acessórias",
			"Custos contábeis maiores",
		},
	})

	switch {
	case receita <= 360000:
		out.Sugestao = "Simples Nacional (melhor custo-benefício para pequenas empresas)"
	case receita <= simplesNacionalLimit:
		out.Sugestao = "Avaliar Simples vs Lucro Presumido (depende da margem de lucro)"
	case receita <= lucroPresumidoLimit:
		out.Sugestao = "Lucro Presumido (se margens altas) ou Lucro Real"
	default:
		out.Sugestao = "Lucro Real (obrigatório)"
	}
	out.Observacao = "Consultoria com contador é essencial para decisão final."

	return out
}
