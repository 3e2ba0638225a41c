package tools

import (
	"fmt"
	"time"
)

const simplesNacionalLimit = 4800000.0

type faixa struct {
	ate      float64
	aliquota float64
	deducao  float64
}

type anexoTable struct {
	nome   string
	faixas []faixa
}

// Tabelas do Simples Nacional (LC 123/2006, valores 2024/2025)
var simplesTables = map[int]anexoTable{
	1: {"Anexo I - Comércio", []faixa{
		{180000, 4.0, 0}, {360000, 7.3, 5940}, {720000, 9.5, 13860},
		{1800000, 10.7, 22500}, {3600000, 14.3, 87300}, {4800000, 19.0, 378000},
	}},
	2: {"Anexo II - Indústria", []faixa{
		{180000, 4.5, 0}, {360000, 7.8, 5940}, {720000, 10.0, 13860},
		{1800000, 11.2, 22500}, {3600000, 14.7, 85500}, {4800000, 30.0, 720000},
	}},
	3: {"Anexo III - Serviços", []faixa{
		{180000, 6.0, 0}, {360000, 11.2, 9360}, {720000, 13.5, 17640},
		{1800000, 16.0, 35640}, {3600000, 21.0, 125640}, {4800000, 33.0, 648000},
	}},
	4: {"Anexo IV - Serviços", []faixa{
		{180000, 4.5, 0}, {360000, 9.0, 8100}, {720000, 10.2, 12420},
		{1800000, 14.0, 39780}, {3600000, 22.0, 183780}, {4800000, 33.0, 828000},
	}},
	5: {"Anexo V - Serviços", []faixa{
		{180000, 15.5, 0}, {360000, 18.0, 4500}, {720000, 19.5, 9900},
		{1800000, 20.5, 17100}, {3600000, 23.0, 62100}, {4800000, 30.5, 540000},
	}},
}

// DASResult 计算结果
type DASResult struct {
	Anexo               int    `json:"anexo"`
	NomeAnexo           string `json:"nome_anexo"`
	MesReferencia       string `json:"mes_referencia"`
	ReceitaBruta12Meses string `json:"receita_bruta_12_meses"`
	ReceitaMensalMedia  string `json:"receita_mensal_media"`
	AliquotaNominal     string `json:"aliquota_nominal"`
	AliquotaEfetiva     string `json:"aliquota_efetiva"`
	ValorDeducao        string `json:"valor_deducao"`
	ValorDASMensal      string `json:"valor_das_mensal"`
	Vencimento          string `json:"vencimento"`
	Observacao          string `json:"observacao"`
}

// DASTool calcular_das_simples_nacional
type DASTool struct {
	now func() time.Time
}

// NewDASTool 创建 DAS 计算工具；now 为空时使用 time.Now
func NewDASTool(now func() time.Time) *DASTool {
	if now == nil {
		now = time.Now
	}
	return &DASTool{now: now}
}

func (t *DASTool) Name() string { return "calcular_das_simples_nacional" }

func (t *DASTool) Description() string {
	return "Calcula o valor da DAS (Documento de Arrecadação do Simples Nacional) baseado na receita bruta dos últimos 12 meses e no anexo da empresa"
}

func (t *DASTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"receita_bruta_12_meses": map[string]any{
				"type":        "number",
				"description": "Receita bruta acumulada dos últimos 12 meses em reais (R$)",
			},
			"anexo": map[string]any{
				"type":        "integer",
				"description": "Anexo do Simples Nacional: 1=Comércio, 2=Indústria, 3=Serviços, 4=Serviços, 5=Serviços com fator R",
				"enum":        []int{1, 2, 3, 4, 5},
			},
			"mes_referencia": map[string]any{
				"type":        "string",
				"description": "Mês de referência no formato MM/AAAA (opcional)",
				"nullable":    true,
			},
		},
		"required": []string{"receita_bruta_12_meses", "anexo"},
	}
}

func (t *DASTool) Execute(args Args) any {
	receita := args.Float("receita_bruta_12_meses", 0)
	anexo := args.Int("anexo", 0)
	mesRef := args.String("mes_referencia", "")
	if mesRef == "" {
		mesRef = t.now().Format("01/2006")
	}
	return calcularDAS(receita, anexo, mesRef)
}

func calcularDAS(receita float64, anexo int, mesRef string) any {
	tabela, ok := simplesTables[anexo]
	if !ok {
		return map[string]any{
			"erro":               fmt.Sprintf("Anexo %d inválido. Use 1, 2, 3, 4 ou 5.", anexo),
			"anexos_disponiveis": []int{1, 2, 3, 4, 5},
		}
	}
	if receita > simplesNacionalLimit {
		return map[string]any{
			"erro":     "Receita bruta excede o limite do Simples Nacional (R$ 4.800.000,00)",
			"sugestao": "Empresa deve migrar para Lucro Presumido ou Lucro Real",
		}
	}
	if receita <= 0 {
		return ErrorResult{Erro: "Receita bruta deve ser maior que zero"}
	}

	var aplicavel *faixa
	for i := range tabela.faixas {
		if receita <= tabela.faixas[i].ate {
			aplicavel = &tabela.faixas[i]
			break
		}
	}
	if aplicavel == nil {
		return ErrorResult{Erro: "Não foi possível determinar a faixa"}
	}

	efetiva := ((receita * aplicavel.aliquota / 100) - aplicavel.deducao) / receita * 100
	mensal := receita / 12
	valorDAS := mensal * efetiva / 100

	return DASResult{
		Anexo:               anexo,
		NomeAnexo:           tabela.nome,
		MesReferencia:       mesRef,
		ReceitaBruta12Meses: formatMoney(receita),
		ReceitaMensalMedia:  formatMoney(mensal),
		AliquotaNominal:     formatRate(aplicavel.aliquota),
		AliquotaEfetiva:     formatPercent(efetiva),
		ValorDeducao:        formatMoney(aplicavel.deducao),
		ValorDASMensal:      formatMoney(valorDAS),
		Vencimento:          "Dia 20 do mês seguinte ao de referência",
		Observacao:          "Valores aproximados. Consulte um contador para cálculo exato.",
	}
}
