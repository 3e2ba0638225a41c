package tools

// FeriasCalculo 明细
type FeriasCalculo struct {
	ValorFerias         string `json:"valor_ferias"`
	TercoConstitucional string `json:"terco_constitucional"`
	AbonoPecuniario     string `json:"abono_pecuniario"`
	TercoAbono          string `json:"terco_abono"`
	TotalBruto          string `json:"total_bruto"`
}

// FeriasDescontos 扣除项
type FeriasDescontos struct {
	INSS           string `json:"inss"`
	IRRF           string `json:"irrf"`
	TotalDescontos string `json:"total_descontos"`
}

// FeriasResult 计算结果
type FeriasResult struct {
	SalarioBruto    string          `json:"salario_bruto"`
	DiasFeriasTotal int             `json:"dias_ferias_total"`
	DiasGozo        int             `json:"dias_gozo"`
	DiasVendidos    int             `json:"dias_vendidos"`
	Calculo         FeriasCalculo   `json:"calculo"`
	Descontos       FeriasDescontos `json:"descontos"`
	TotalLiquido    string          `json:"total_liquido"`
	Observacao      string          `json:"observacao"`
}

// FeriasTool calcular_ferias
type FeriasTool struct{}

func (FeriasTool) Name() string { return "calcular_ferias" }

func (FeriasTool) Description() string {
	return "Calcula o valor de férias de um colaborador, incluindo 1/3 constitucional e abono pecuniário (venda de férias)"
}

func (FeriasTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"salario_bruto": map[string]any{
				"type":        "number",
				"description": "Salário bruto mensal do colaborador em reais (R$)",
			},
			"dias_ferias": map[string]any{
				"type":        "integer",
				"description": "Quantidade de dias de férias (padrão: 30 dias)",
				"default":     30,
			},
			"vende_10_dias": map[string]any{
				"type":        "boolean",
				"description": "Se o colaborador vai vender 10 dias de férias (abono pecuniário)",
				"default":     false,
			},
		},
		"required": []string{"salario_bruto"},
	}
}

func (FeriasTool) Execute(args Args) any {
	return calcularFerias(
		args.Float("salario_bruto", 0),
		args.Int("dias_ferias", 30),
		args.Bool("vende_10_dias", false),
	)
}

func calcularFerias(salario float64, dias int, vende bool) any {
	if dias < 1 || dias > 30 {
		return ErrorResult{Erro: "Dias de férias deve estar entre 1 e 30"}
	}

	gozo, vendidos := dias, 0
	if vende {
		if dias < 30 {
			return ErrorResult{Erro: "Para vender 10 dias, é necessário ter direito a 30 dias de férias"}
		}
		gozo, vendidos = 20, 10
	}

	valorFerias := salario / 30 * float64(gozo)
	terco := valorFerias / 3
	abono := salario / 30 * float64(vendidos)
	tercoAbono := abono / 3
	totalBruto := valorFerias + terco + abono + tercoAbono

	inss := inssFor(salario)
	irrf := irrfFor(totalBruto - inss)
	descontos := inss + irrf

	return FeriasResult{
		SalarioBruto:    formatMoney(salario),
		DiasFeriasTotal: dias,
		DiasGozo:        gozo,
		DiasVendidos:    vendidos,
		Calculo: FeriasCalculo{
			ValorFerias:         formatMoney(valorFerias),
			TercoConstitucional: formatMoney(terco),
			AbonoPecuniario:     formatMoney(abono),
			TercoAbono:          formatMoney(tercoAbono),
			TotalBruto:          formatMoney(totalBruto),
		},
		Descontos: FeriasDescontos{
			INSS:           formatMoney(inss),
			IRRF:           formatMoney(irrf),
			TotalDescontos: formatMoney(descontos),
		},
		TotalLiquido: formatMoney(totalBruto - descontos),
		Observacao:   "Cálculo aproximado. Valores exatos dependem de outras variáveis.",
	}
}

// tabela INSS simplificada 2024/2025 (alíquota única por faixa)
func inssFor(salario float64) float64 {
	switch {
	case salario <= 1412.00:
		return salario * 0.075
	case salario <= 2666.68:
		return salario * 0.09
	case salario <= 4000.03:
		return salario * 0.12
	default:
		return salario * 0.14
	}
}

func irrfFor(base float64) float64 {
	switch {
	case base <= 2259.20:
		return 0
	case base <= 2826.65:
		return base*0.075 - 169.44
	case base <= 3751.05:
		return base*0.15 - 381.44
	case base <= 4664.68:
		return base*0.225 - 662.77
	default:
		return base*0.275 - 896.00
	}
}
